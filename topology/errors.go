package topology

import "fmt"

// A ConfigError is returned when a declaration violates a structural or
// cardinality invariant: a duplicate partition name, a dangling reference to
// an undeclared node, or a reachability class bound to a role that requires
// a different one.
//
// Invariants that can only be checked globally are deferred and aggregated
// into a single multi-error returned by Finalize.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid topology: %s", e.Reason)
}

func configErrf(format string, args ...interface{}) ConfigError {
	return ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// A CycleError is returned when an explicit ordering constraint would create
// a cycle in the dependency graph.
type CycleError struct {
	Before Node
	After  Node
}

func (e CycleError) Error() string {
	return fmt.Sprintf("ordering cycle: %s already depends on %s", e.Before.Kind(), e.After.Kind())
}

// A StateError is returned when a mutation is attempted on a finalized
// builder. The graph is left unchanged.
type StateError struct {
	Op string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: topology is finalized", e.Op)
}
