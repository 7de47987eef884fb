package topology

// A Topology is a finalized, validated resource graph. It is read only;
// the builder that produced it no longer accepts mutations.
type Topology struct {
	// Account and Region identify the provisioning target. Either may be
	// empty, in which case the provisioning engine resolves a default.
	Account string
	Region  string

	// Nodes contains every declared node, in declaration order.
	Nodes []Node

	// Constraints contains the explicit ordering constraints, in the order
	// they were added.
	Constraints []Constraint

	// Warnings contains the lint findings recorded during construction.
	Warnings []Warning

	order []Node
}

// CreationOrder returns the nodes in an order that satisfies every
// reference edge and explicit constraint: each node appears after all nodes
// it depends on. Independent branches are ordered by declaration.
func (t *Topology) CreationOrder() []Node {
	return append([]Node(nil), t.order...)
}

// Dependencies returns the nodes the given node directly depends on through
// its reference fields, in field order.
func (t *Topology) Dependencies(n Node) []Node {
	return n.refs()
}

// Fabric returns the network fabric of the topology.
func (t *Topology) Fabric() *NetworkFabric {
	for _, n := range t.Nodes {
		if f, ok := n.(*NetworkFabric); ok {
			return f
		}
	}
	return nil
}
