// Package topology builds a declarative resource graph for a cloud
// deployment: a network fabric with address partitions, traffic filters,
// secret material, a managed stateful service cluster, a compute service and
// a traffic distributing front end, together with the permission and
// ordering edges between them.
//
// All entities are declared through a Builder. Every declaration returns a
// handle which the caller threads into subsequent declarations; nothing is
// registered implicitly. The dependency graph is derived from the reference
// fields on the nodes plus any explicit ordering constraints, and is
// validated to be acyclic.
//
// Construction is synchronous and single threaded. No declaration talks to
// an external system; secret values, address allocation and provisioning are
// performed later by an external engine that consumes the finalized graph.
package topology

import (
	"sort"

	"github.com/fabrik/fabrik/suggest"
	"github.com/fabrik/fabrik/topology/schema"
	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// DuplicateTargetPolicy controls how attaching the same service instance to
// a listener more than once is handled.
type DuplicateTargetPolicy int

const (
	// WarnDuplicateTargets records a lint warning and keeps the duplicate.
	WarnDuplicateTargets DuplicateTargetPolicy = iota

	// RejectDuplicateTargets fails the AddTargets call with a ConfigError.
	RejectDuplicateTargets
)

// A Warning is a non-fatal lint finding recorded during construction.
type Warning struct {
	Node    Node
	Message string
}

// A Builder accumulates resource declarations into a single owned graph.
//
// The builder has two states: open and finalized. Declarations are only
// accepted while open; Finalize is the one-way transition to finalized.
// The builder is not safe for concurrent use.
type Builder struct {
	// DuplicateTargets selects the policy for duplicate listener targets.
	// The zero value records a warning.
	DuplicateTargets DuplicateTargetPolicy

	account string
	region  string

	nextID      int64
	nodes       []Node // declaration order
	nodeSet     map[Node]struct{}
	byID        map[int64]Node
	fabric      *NetworkFabric
	constraints []Constraint
	warnings    []Warning
	finalized   bool
}

// New creates an empty builder for the given target account and region.
// Either identifier may be empty, in which case the provisioning engine
// resolves a default.
func New(account, region string) *Builder {
	return &Builder{
		account: account,
		region:  region,
		nodeSet: make(map[Node]struct{}),
		byID:    make(map[int64]Node),
	}
}

func (b *Builder) newNode() node {
	n := node{handle: ksuid.New(), gid: b.nextID}
	b.nextID++
	return n
}

func (b *Builder) register(n Node) {
	b.nodes = append(b.nodes, n)
	b.nodeSet[n] = struct{}{}
	b.byID[n.graphID()] = n
}

// declared checks that a handle passed into a declaration belongs to this
// builder's graph.
func (b *Builder) declared(n Node) error {
	if n == nil {
		return ConfigError{Reason: "nil node reference"}
	}
	if _, ok := b.nodeSet[n]; !ok {
		return configErrf("reference to undeclared %s", n.Kind())
	}
	return nil
}

// A PartitionSpec describes one address partition of the network fabric.
type PartitionSpec struct {
	Name string `validate:"required"`

	// AddressRangeSize is the prefix length of the partition's range, for
	// example 24 for a /24.
	AddressRangeSize int `validate:"min=16,max=28"`

	Class ReachabilityClass
}

// DeclareNetwork declares the network fabric and its address partitions.
// The fabric is the root of the graph and can only be declared once.
//
// Partition names must be unique and at least one partition of each
// reachability class must be present for the design to be satisfiable.
func (b *Builder) DeclareNetwork(partitions ...PartitionSpec) (*NetworkFabric, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareNetwork"}
	}
	if b.fabric != nil {
		return nil, ConfigError{Reason: "network fabric already declared"}
	}

	names := make(map[string]struct{}, len(partitions))
	classes := make(map[ReachabilityClass]int, 2)
	for _, p := range partitions {
		if err := schema.Validate(p); err != nil {
			return nil, configErrf("partition %q: %v", p.Name, err)
		}
		if p.Class != ExternallyReachable && p.Class != Isolated {
			return nil, configErrf("partition %q: unknown reachability class %q", p.Name, p.Class)
		}
		if _, ok := names[p.Name]; ok {
			return nil, configErrf("duplicate partition name %q", p.Name)
		}
		names[p.Name] = struct{}{}
		classes[p.Class]++
	}
	for _, class := range []ReachabilityClass{ExternallyReachable, Isolated} {
		if classes[class] == 0 {
			return nil, configErrf("no %s partition declared", class)
		}
	}

	fabric := &NetworkFabric{node: b.newNode()}
	b.register(fabric)
	for _, p := range partitions {
		part := &AddressPartition{
			node:             b.newNode(),
			Fabric:           fabric,
			Name:             p.Name,
			AddressRangeSize: p.AddressRangeSize,
			Class:            p.Class,
		}
		fabric.Partitions = append(fabric.Partitions, part)
		b.register(part)
	}
	b.fabric = fabric
	return fabric, nil
}

// Partition returns the named partition of the given fabric. Unlike
// NetworkFabric.Partition, an unknown name is an error, with a suggestion
// when a close match exists.
func (b *Builder) Partition(fabric *NetworkFabric, name string) (*AddressPartition, error) {
	if err := b.declared(fabric); err != nil {
		return nil, err
	}
	if p := fabric.Partition(name); p != nil {
		return p, nil
	}
	candidates := make([]string, len(fabric.Partitions))
	for i, p := range fabric.Partitions {
		candidates[i] = p.Name
	}
	if s := suggest.String(name, candidates); s != "" {
		return nil, configErrf("no partition named %q, did you mean %q?", name, s)
	}
	return nil, configErrf("no partition named %q", name)
}

// DeclareTrafficFilter declares a named access control boundary on the
// fabric. The filter starts with no ingress rules.
func (b *Builder) DeclareTrafficFilter(owner string, fabric *NetworkFabric) (*TrafficFilter, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareTrafficFilter"}
	}
	if owner == "" {
		return nil, ConfigError{Reason: "traffic filter owner not set"}
	}
	if err := b.declared(fabric); err != nil {
		return nil, err
	}
	f := &TrafficFilter{node: b.newNode(), Fabric: fabric, Owner: owner}
	b.register(f)
	return f, nil
}

// DeclareSecret declares secret material. The template holds the known,
// non-sensitive fields; the generated field is produced by the external
// secret generation mechanism at provisioning time. The builder records the
// recipe only, never a value.
func (b *Builder) DeclareSecret(template map[string]string, generated GeneratedFieldSpec) (*SecretMaterial, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareSecret"}
	}
	if err := schema.Validate(generated); err != nil {
		return nil, configErrf("generated field: %v", err)
	}
	if _, ok := template[generated.Name]; ok {
		return nil, configErrf("generated field %q already present in template", generated.Name)
	}
	tmpl := make(map[string]string, len(template))
	for k, v := range template {
		tmpl[k] = v
	}
	s := &SecretMaterial{node: b.newNode(), Template: tmpl, Generated: generated}
	b.register(s)
	return s, nil
}

// A ClusterSpec sizes a stateful service cluster.
type ClusterSpec struct {
	InstanceClass string `validate:"required"`
	Instances     int    `validate:"min=1,max=16"`
}

// DeclareStatefulCluster declares the managed database cluster. The cluster
// must bind to an isolated partition; binding an externally reachable
// partition is a configuration error.
func (b *Builder) DeclareStatefulCluster(fabric *NetworkFabric, partition *AddressPartition, filter *TrafficFilter, admin *SecretMaterial, spec ClusterSpec) (*StatefulServiceCluster, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareStatefulCluster"}
	}
	for _, ref := range []Node{fabric, partition, filter, admin} {
		if err := b.declared(ref); err != nil {
			return nil, err
		}
	}
	if partition.Class != Isolated {
		return nil, configErrf("stateful service cluster must bind to an isolated partition, %q is %s", partition.Name, partition.Class)
	}
	if err := schema.Validate(spec); err != nil {
		return nil, configErrf("cluster spec: %v", err)
	}
	c := &StatefulServiceCluster{
		node:          b.newNode(),
		Fabric:        fabric,
		Partition:     partition,
		Filter:        filter,
		AdminSecret:   admin,
		InstanceClass: spec.InstanceClass,
		Instances:     spec.Instances,
	}
	b.register(c)
	return c, nil
}

// DeclareComputeCluster declares a logical grouping for service tasks.
func (b *Builder) DeclareComputeCluster(fabric *NetworkFabric) (*ComputeCluster, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareComputeCluster"}
	}
	if err := b.declared(fabric); err != nil {
		return nil, err
	}
	c := &ComputeCluster{node: b.newNode(), Fabric: fabric}
	b.register(c)
	return c, nil
}

// A TaskSpec describes one runnable unit.
type TaskSpec struct {
	Image     string `validate:"required"`
	CPU       int    `validate:"min=128,max=4096"`
	MemoryMiB int    `validate:"min=128,max=30720"`

	// Ports are exposed in order.
	Ports []PortSpec `validate:"dive"`

	// SecretEnv maps environment variable names to secret field
	// references. Values are never literal secrets.
	SecretEnv map[string]SecretFieldRef
}

// DeclareTaskTemplate declares a task template. Every secret referenced in
// an environment binding must already be declared, and the referenced field
// must exist on the secret.
func (b *Builder) DeclareTaskTemplate(spec TaskSpec) (*TaskTemplate, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareTaskTemplate"}
	}
	if err := schema.Validate(spec); err != nil {
		return nil, configErrf("task spec: %v", err)
	}

	// Bindings are kept sorted by variable name so that iteration order is
	// deterministic.
	names := make([]string, 0, len(spec.SecretEnv))
	for name := range spec.SecretEnv {
		names = append(names, name)
	}
	sort.Strings(names)

	bindings := make([]EnvBinding, 0, len(names))
	for _, name := range names {
		ref := spec.SecretEnv[name]
		if err := b.declared(ref.Secret); err != nil {
			return nil, configErrf("env %s: %v", name, err)
		}
		if err := secretHasField(ref.Secret, ref.Field); err != nil {
			return nil, configErrf("env %s: %v", name, err)
		}
		bindings = append(bindings, EnvBinding{Name: name, Ref: ref})
	}

	t := &TaskTemplate{
		node:      b.newNode(),
		Image:     spec.Image,
		CPU:       spec.CPU,
		MemoryMiB: spec.MemoryMiB,
		Ports:     append([]PortSpec(nil), spec.Ports...),
		SecretEnv: bindings,
	}
	b.register(t)
	return t, nil
}

func secretHasField(s *SecretMaterial, field string) error {
	if field == s.Generated.Name {
		return nil
	}
	if _, ok := s.Template[field]; ok {
		return nil
	}
	candidates := []string{s.Generated.Name}
	for k := range s.Template {
		candidates = append(candidates, k)
	}
	if sugg := suggest.String(field, candidates); sugg != "" {
		return configErrf("secret has no field %q, did you mean %q?", field, sugg)
	}
	return configErrf("secret has no field %q", field)
}

// DeclareServiceInstance binds a task template to a compute cluster, a
// traffic filter and an address partition. When a public address is
// assigned the partition must be externally reachable.
func (b *Builder) DeclareServiceInstance(cluster *ComputeCluster, task *TaskTemplate, filter *TrafficFilter, partition *AddressPartition, assignPublicAddress bool) (*ServiceInstance, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareServiceInstance"}
	}
	for _, ref := range []Node{cluster, task, filter, partition} {
		if err := b.declared(ref); err != nil {
			return nil, err
		}
	}
	if assignPublicAddress && partition.Class != ExternallyReachable {
		return nil, configErrf("service instance with a public address must bind to an externally reachable partition, %q is %s", partition.Name, partition.Class)
	}
	s := &ServiceInstance{
		node:                b.newNode(),
		Cluster:             cluster,
		Task:                task,
		Filter:              filter,
		Partition:           partition,
		AssignPublicAddress: assignPublicAddress,
	}
	b.register(s)
	return s, nil
}

// DeclareDistributor declares a traffic distributing front end on the
// fabric.
func (b *Builder) DeclareDistributor(fabric *NetworkFabric, internetFacing bool) (*TrafficDistributor, error) {
	if b.finalized {
		return nil, StateError{Op: "DeclareDistributor"}
	}
	if err := b.declared(fabric); err != nil {
		return nil, err
	}
	d := &TrafficDistributor{node: b.newNode(), Fabric: fabric, InternetFacing: internetFacing}
	b.register(d)
	return d, nil
}

// AddListener adds a port and protocol to a distributor.
func (b *Builder) AddListener(d *TrafficDistributor, port int, protocol string) (*Listener, error) {
	if b.finalized {
		return nil, StateError{Op: "AddListener"}
	}
	if err := b.declared(d); err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, configErrf("listener port %d out of range", port)
	}
	if protocol == "" {
		return nil, ConfigError{Reason: "listener protocol not set"}
	}
	l := &Listener{node: b.newNode(), Distributor: d, Port: port, Protocol: protocol}
	d.Listeners = append(d.Listeners, l)
	b.register(l)
	return l, nil
}

// AddTargets appends service instances as targets to a listener, in order.
//
// Attaching the same instance twice is handled according to the builder's
// DuplicateTargets policy; with the default policy the duplicate is kept
// and a lint warning is recorded. Nothing is deduplicated automatically.
func (b *Builder) AddTargets(l *Listener, targets ...*ServiceInstance) error {
	if b.finalized {
		return StateError{Op: "AddTargets"}
	}
	if err := b.declared(l); err != nil {
		return err
	}
	for _, t := range targets {
		if err := b.declared(t); err != nil {
			return err
		}
	}

	seen := make(map[*ServiceInstance]struct{}, len(l.Targets)+len(targets))
	for _, t := range l.Targets {
		seen[t] = struct{}{}
	}
	var dups []*ServiceInstance
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			dups = append(dups, t)
			continue
		}
		seen[t] = struct{}{}
	}
	if len(dups) > 0 && b.DuplicateTargets == RejectDuplicateTargets {
		return configErrf("duplicate listener target %s", dups[0].Handle())
	}
	for _, t := range dups {
		b.warnings = append(b.warnings, Warning{
			Node:    l,
			Message: "duplicate listener target " + t.Handle(),
		})
	}

	l.Targets = append(l.Targets, targets...)
	return nil
}

// AddIngressRule appends an ingress rule to a filter. The source filter
// must already be declared; there are no forward references.
func (b *Builder) AddIngressRule(filter, source *TrafficFilter, protocol string, port int, description string) error {
	if b.finalized {
		return StateError{Op: "AddIngressRule"}
	}
	if err := b.declared(filter); err != nil {
		return err
	}
	if err := b.declared(source); err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return configErrf("ingress port %d out of range", port)
	}
	filter.Rules = append(filter.Rules, IngressRule{
		Source:      source,
		Protocol:    protocol,
		Port:        port,
		Description: description,
	})
	return nil
}

// GrantPermission permits the execution identity of a service instance the
// given actions on the given resource handles. Every resource must already
// be declared.
func (b *Builder) GrantPermission(identity *ServiceInstance, actions []string, resources ...Node) (*PermissionGrant, error) {
	if b.finalized {
		return nil, StateError{Op: "GrantPermission"}
	}
	if err := b.declared(identity); err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, ConfigError{Reason: "permission grant has no actions"}
	}
	if len(resources) == 0 {
		return nil, ConfigError{Reason: "permission grant has no resources"}
	}
	for _, r := range resources {
		if err := b.declared(r); err != nil {
			return nil, err
		}
	}
	g := &PermissionGrant{
		node:      b.newNode(),
		Identity:  identity,
		Actions:   append([]string(nil), actions...),
		Resources: append([]Node(nil), resources...),
	}
	b.register(g)
	return g, nil
}

// AddOrderingConstraint records that before must be created before after.
// It is used when no reference edge already encodes the ordering. The call
// fails with a CycleError if the edge would create a cycle under the union
// of reference edges and previously added constraints.
func (b *Builder) AddOrderingConstraint(before, after Node) error {
	if b.finalized {
		return StateError{Op: "AddOrderingConstraint"}
	}
	if err := b.declared(before); err != nil {
		return err
	}
	if err := b.declared(after); err != nil {
		return err
	}
	if before == after {
		return CycleError{Before: before, After: after}
	}

	// The edge would close a cycle if before is already reachable from
	// after over the current edge set.
	dg := b.depGraph()
	bfs := traverse.BreadthFirst{}
	found := bfs.Walk(dg, simple.Node(after.graphID()), func(n graph.Node, _ int) bool {
		return n.ID() == before.graphID()
	})
	if found != nil {
		return CycleError{Before: before, After: after}
	}

	b.constraints = append(b.constraints, Constraint{Before: before, After: after})
	return nil
}

// depGraph derives the dependency graph from the reference fields on the
// declared nodes plus the explicit ordering constraints.
func (b *Builder) depGraph() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for _, n := range b.nodes {
		dg.AddNode(simple.Node(n.graphID()))
	}
	addEdge := func(parent, child Node) {
		from, to := parent.graphID(), child.graphID()
		if from == to || dg.HasEdgeFromTo(from, to) {
			return
		}
		dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
	}
	for _, child := range b.nodes {
		for _, parent := range child.refs() {
			addEdge(parent, child)
		}
	}
	for _, c := range b.constraints {
		addEdge(c.Before, c.After)
	}
	return dg
}

// Finalize validates the global invariants and returns the completed graph.
// Violations are aggregated into a single multi-error; nothing is silently
// corrected. After a successful Finalize the builder accepts no further
// mutations.
func (b *Builder) Finalize() (*Topology, error) {
	if b.finalized {
		return nil, StateError{Op: "Finalize"}
	}

	var errs []error
	warnings := append([]Warning(nil), b.warnings...)

	if b.fabric == nil {
		errs = append(errs, ConfigError{Reason: "no network fabric declared"})
	} else {
		classes := make(map[ReachabilityClass]int, 2)
		for _, p := range b.fabric.Partitions {
			classes[p.Class]++
		}
		for _, class := range []ReachabilityClass{ExternallyReachable, Isolated} {
			if classes[class] == 0 {
				errs = append(errs, configErrf("no %s partition declared", class))
			}
		}
		for _, p := range b.fabric.Partitions {
			if len(b.consumersOf(p)) == 0 {
				// Not fatal: a partition may be reserved for the front
				// end or future growth.
				warnings = append(warnings, Warning{
					Node:    p,
					Message: "partition " + p.Name + " is not used by any service",
				})
			}
		}
	}

	for _, n := range b.nodes {
		switch n := n.(type) {
		case *TrafficFilter:
			switch c := len(b.consumersOf(n)); {
			case c == 0:
				errs = append(errs, configErrf("traffic filter %q has no consumer", n.Owner))
			case c > 1:
				errs = append(errs, configErrf("traffic filter %q is attached to %d consumers", n.Owner, c))
			}
		case *TrafficDistributor:
			if len(n.Listeners) == 0 {
				warnings = append(warnings, Warning{
					Node:    n,
					Message: "traffic distributor has no listeners",
				})
			}
		case *Listener:
			if len(n.Targets) == 0 {
				warnings = append(warnings, Warning{
					Node:    n,
					Message: "listener has no targets",
				})
			}
		}
	}

	sorted, err := topo.SortStabilized(b.depGraph(), nil)
	if err != nil {
		// Reference edges cannot form a cycle on their own since every
		// reference points at an already declared node, and constraints
		// are checked when added. Surface it anyway rather than trusting
		// that.
		errs = append(errs, configErrf("dependency graph is not acyclic: %v", err))
	}

	if len(errs) > 0 {
		return nil, multierr.Combine(errs...)
	}

	order := make([]Node, len(sorted))
	for i, gn := range sorted {
		order[i] = b.byID[gn.ID()]
	}

	b.finalized = true
	return &Topology{
		Account:     b.account,
		Region:      b.region,
		Nodes:       append([]Node(nil), b.nodes...),
		Constraints: append([]Constraint(nil), b.constraints...),
		Warnings:    warnings,
		order:       order,
	}, nil
}

// consumersOf returns the declared nodes that bind the given partition or
// filter as theirs.
func (b *Builder) consumersOf(n Node) []Node {
	var out []Node
	for _, c := range b.nodes {
		switch c := c.(type) {
		case *StatefulServiceCluster:
			if Node(c.Partition) == n || Node(c.Filter) == n {
				out = append(out, c)
			}
		case *ServiceInstance:
			if Node(c.Partition) == n || Node(c.Filter) == n {
				out = append(out, c)
			}
		}
	}
	return out
}
