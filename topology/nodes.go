package topology

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// A Node is a single declared entity in the resource graph.
//
// All nodes are created through declaration methods on a Builder; the
// returned handle is passed into subsequent declarations to express
// relationships. Nodes are never created directly.
type Node interface {
	// Handle returns a stable, unique identifier for the node within the
	// graph. The handle carries no secret or provider-assigned data.
	Handle() string

	// Kind returns the kind of the node, such as "network_fabric".
	Kind() string

	// refs returns the nodes this node directly depends on. The dependency
	// graph is derived from these references together with any explicit
	// ordering constraints; references are plain data, no hidden ordering
	// state is kept.
	refs() []Node

	// graphID returns the node id used when deriving the dependency graph.
	graphID() int64
}

// node is embedded in every concrete node type.
type node struct {
	handle ksuid.KSUID
	gid    int64 // sequential id used when deriving the dependency graph
}

func (n *node) Handle() string { return n.handle.String() }
func (n *node) graphID() int64 { return n.gid }

// ReachabilityClass describes whether an address partition is reachable from
// outside the network fabric.
type ReachabilityClass string

const (
	// ExternallyReachable partitions accept traffic originating outside the
	// network fabric.
	ExternallyReachable ReachabilityClass = "externally-reachable"

	// Isolated partitions are only reachable from within the fabric.
	Isolated ReachabilityClass = "isolated"
)

// A NetworkFabric is an isolated virtual network. It is the root of the
// resource graph, declared exactly once and never mutated afterwards.
type NetworkFabric struct {
	node

	// Partitions contains the address partitions of the fabric, in
	// declaration order.
	Partitions []*AddressPartition
}

func (f *NetworkFabric) Kind() string { return "network_fabric" }
func (f *NetworkFabric) refs() []Node { return nil }

// Partition returns the partition with the given name, or nil if the fabric
// has no such partition.
func (f *NetworkFabric) Partition(name string) *AddressPartition {
	for _, p := range f.Partitions {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// An AddressPartition is a named subdivision of a network fabric's address
// space, tagged with a reachability class.
type AddressPartition struct {
	node

	Fabric *NetworkFabric
	Name   string

	// AddressRangeSize is the prefix length of the partition's address
	// range, for example 24 for a /24.
	AddressRangeSize int

	Class ReachabilityClass
}

func (p *AddressPartition) Kind() string { return "address_partition" }
func (p *AddressPartition) refs() []Node { return []Node{p.Fabric} }

// An IngressRule permits traffic from a source filter on a protocol and
// port. Rules are kept in the order they were added.
type IngressRule struct {
	Source      *TrafficFilter
	Protocol    string
	Port        int
	Description string
}

// A TrafficFilter is a named, fabric scoped access control boundary,
// analogous to a security group. It is attached to exactly one consumer.
type TrafficFilter struct {
	node

	Fabric *NetworkFabric

	// Owner names the service group the filter belongs to.
	Owner string

	// Rules contains the ingress rules in the order they were added.
	Rules []IngressRule
}

func (f *TrafficFilter) Kind() string { return "traffic_filter" }

func (f *TrafficFilter) refs() []Node {
	nodes := []Node{f.Fabric}
	for _, r := range f.Rules {
		nodes = append(nodes, r.Source)
	}
	return nodes
}

// A GeneratedFieldSpec describes the one field of a secret that is produced
// by the external secret generation mechanism at provisioning time.
type GeneratedFieldSpec struct {
	Name              string `validate:"required"`
	Length            int    `validate:"min=8,max=128"`
	ExcludeCharacters string
}

// SecretMaterial declares that credential values will be generated outside
// the graph. The graph only ever holds the generation recipe and a handle;
// the literal secret value never appears in it.
type SecretMaterial struct {
	node

	// Template holds the known, non-sensitive fields of the secret.
	Template map[string]string

	// Generated specifies the field produced at provisioning time.
	Generated GeneratedFieldSpec
}

func (s *SecretMaterial) Kind() string { return "secret_material" }
func (s *SecretMaterial) refs() []Node { return nil }

// Field returns a typed reference to a named field of the secret. The
// reference is valid for use in environment bindings and permission
// resource sets; it never resolves to a value inside the graph.
func (s *SecretMaterial) Field(name string) SecretFieldRef {
	return SecretFieldRef{Secret: s, Field: name}
}

// A SecretFieldRef points at a single field of a SecretMaterial.
type SecretFieldRef struct {
	Secret *SecretMaterial
	Field  string
}

// A StatefulServiceCluster is a managed database cluster. It binds to an
// isolated partition only.
type StatefulServiceCluster struct {
	node

	Fabric      *NetworkFabric
	Partition   *AddressPartition
	Filter      *TrafficFilter
	AdminSecret *SecretMaterial

	InstanceClass string
	Instances     int
}

func (c *StatefulServiceCluster) Kind() string { return "stateful_service_cluster" }

func (c *StatefulServiceCluster) refs() []Node {
	return []Node{c.Fabric, c.Partition, c.Filter, c.AdminSecret}
}

// A ComputeCluster is a logical grouping for running service tasks.
type ComputeCluster struct {
	node

	Fabric *NetworkFabric
}

func (c *ComputeCluster) Kind() string { return "compute_cluster" }
func (c *ComputeCluster) refs() []Node { return []Node{c.Fabric} }

// A PortSpec is a single named port exposure on a task.
type PortSpec struct {
	Name          string
	ContainerPort int `validate:"min=1,max=65535"`
}

// An EnvBinding maps an environment variable to a secret field reference.
type EnvBinding struct {
	Name string
	Ref  SecretFieldRef
}

// A TaskTemplate declares one runnable unit: an image, a resource
// reservation, port exposures and secret-backed environment variables.
type TaskTemplate struct {
	node

	Image     string
	CPU       int
	MemoryMiB int

	// Ports are kept in declaration order.
	Ports []PortSpec

	// SecretEnv holds the environment bindings sorted by variable name.
	SecretEnv []EnvBinding
}

func (t *TaskTemplate) Kind() string { return "task_template" }

func (t *TaskTemplate) refs() []Node {
	seen := make(map[*SecretMaterial]struct{}, len(t.SecretEnv))
	var nodes []Node
	for _, b := range t.SecretEnv {
		if _, ok := seen[b.Ref.Secret]; ok {
			continue
		}
		seen[b.Ref.Secret] = struct{}{}
		nodes = append(nodes, b.Ref.Secret)
	}
	return nodes
}

// A ServiceInstance binds a task template to a compute cluster, a traffic
// filter and an address partition.
type ServiceInstance struct {
	node

	Cluster   *ComputeCluster
	Task      *TaskTemplate
	Filter    *TrafficFilter
	Partition *AddressPartition

	// AssignPublicAddress requires the partition to be externally
	// reachable.
	AssignPublicAddress bool
}

func (s *ServiceInstance) Kind() string { return "service_instance" }

func (s *ServiceInstance) refs() []Node {
	return []Node{s.Cluster, s.Task, s.Filter, s.Partition}
}

// A TrafficDistributor is a load balancing front end on a fabric.
type TrafficDistributor struct {
	node

	Fabric         *NetworkFabric
	InternetFacing bool

	// Listeners are kept in declaration order.
	Listeners []*Listener
}

func (d *TrafficDistributor) Kind() string { return "traffic_distributor" }
func (d *TrafficDistributor) refs() []Node { return []Node{d.Fabric} }

// A Listener is a port and protocol on a traffic distributor, forwarding to
// an ordered list of service instance targets.
type Listener struct {
	node

	Distributor *TrafficDistributor
	Port        int
	Protocol    string

	// Targets are kept in the order they were added. Duplicates are
	// permitted subject to the builder's duplicate target policy.
	Targets []*ServiceInstance
}

func (l *Listener) Kind() string { return "listener" }

func (l *Listener) refs() []Node {
	nodes := []Node{l.Distributor}
	for _, t := range l.Targets {
		nodes = append(nodes, t)
	}
	return nodes
}

// A PermissionGrant permits an execution identity a set of actions on a set
// of resource handles.
type PermissionGrant struct {
	node

	Identity  *ServiceInstance
	Actions   []string
	Resources []Node
}

func (g *PermissionGrant) Kind() string { return "permission_grant" }

func (g *PermissionGrant) refs() []Node {
	nodes := []Node{g.Identity}
	nodes = append(nodes, g.Resources...)
	return nodes
}

// A Constraint is an explicit must-be-created-after edge between two nodes,
// used when no reference edge already encodes the ordering.
type Constraint struct {
	Before Node
	After  Node
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s -> %s %s", c.Before.Kind(), c.Before.Handle(), c.After.Kind(), c.After.Handle())
}
