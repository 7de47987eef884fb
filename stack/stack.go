// Package stack assembles the deployment topology: an isolated network
// with a public and a private partition, a managed document database on the
// private side, a containerized service on the public side, and a load
// balancing front end, wired together with traffic filters, a generated
// admin secret and the permission grants the service needs to read it.
package stack

import (
	"github.com/fabrik/fabrik/config"
	"github.com/fabrik/fabrik/topology"
	"github.com/pkg/errors"
)

// Name is the stack name used by the provisioning engine when no project
// name is configured.
const Name = "fabrik-demo"

const dbPort = 27017

// punctuation is excluded from the generated database password; some of
// these characters are rejected by the database engine's connection string
// parsing.
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Build constructs and finalizes the deployment topology for the given
// configuration.
func Build(cfg *config.Project) (*topology.Topology, error) {
	b := topology.New(cfg.Account, cfg.Region)

	fabric, err := b.DeclareNetwork(
		topology.PartitionSpec{Name: "public", AddressRangeSize: 24, Class: topology.ExternallyReachable},
		topology.PartitionSpec{Name: "private", AddressRangeSize: 24, Class: topology.Isolated},
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare network")
	}
	public, err := b.Partition(fabric, "public")
	if err != nil {
		return nil, err
	}
	private, err := b.Partition(fabric, "private")
	if err != nil {
		return nil, err
	}

	dbFilter, err := b.DeclareTrafficFilter("ddbSG", fabric)
	if err != nil {
		return nil, errors.Wrap(err, "declare database filter")
	}
	svcFilter, err := b.DeclareTrafficFilter("serviceSG", fabric)
	if err != nil {
		return nil, errors.Wrap(err, "declare service filter")
	}

	admin, err := b.DeclareSecret(
		map[string]string{"username": "awsdemo"},
		topology.GeneratedFieldSpec{Name: "password", Length: 16, ExcludeCharacters: punctuation},
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare admin secret")
	}

	db, err := b.DeclareStatefulCluster(fabric, private, dbFilter, admin, topology.ClusterSpec{
		InstanceClass: cfg.Stack.InstanceClass,
		Instances:     cfg.Stack.Instances,
	})
	if err != nil {
		return nil, errors.Wrap(err, "declare database")
	}

	compute, err := b.DeclareComputeCluster(fabric)
	if err != nil {
		return nil, errors.Wrap(err, "declare compute cluster")
	}

	task, err := b.DeclareTaskTemplate(topology.TaskSpec{
		Image:     cfg.Stack.Image,
		CPU:       256,
		MemoryMiB: 512,
		Ports:     []topology.PortSpec{{Name: "http", ContainerPort: cfg.Stack.ContainerPort}},
		SecretEnv: map[string]topology.SecretFieldRef{
			"DB_USERNAME": admin.Field("username"),
			"DB_PASSWORD": admin.Field("password"),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "declare task template")
	}

	svc, err := b.DeclareServiceInstance(compute, task, svcFilter, public, true)
	if err != nil {
		return nil, errors.Wrap(err, "declare service")
	}

	dist, err := b.DeclareDistributor(fabric, true)
	if err != nil {
		return nil, errors.Wrap(err, "declare distributor")
	}
	listener, err := b.AddListener(dist, 80, "HTTP")
	if err != nil {
		return nil, errors.Wrap(err, "add listener")
	}
	if err := b.AddTargets(listener, svc); err != nil {
		return nil, errors.Wrap(err, "add targets")
	}

	if err := b.AddIngressRule(dbFilter, svcFilter, "tcp", dbPort, "service access to the database"); err != nil {
		return nil, errors.Wrap(err, "add database ingress")
	}
	if err := b.AddIngressRule(svcFilter, svcFilter, "tcp", cfg.Stack.ContainerPort, "traffic within the service group"); err != nil {
		return nil, errors.Wrap(err, "add service ingress")
	}

	if _, err := b.GrantPermission(svc, []string{"secretsmanager:GetSecretValue"}, admin); err != nil {
		return nil, errors.Wrap(err, "grant secret access")
	}

	// No reference edge connects the service to the database; without this
	// the engine is free to start the service before its backend exists.
	if err := b.AddOrderingConstraint(db, svc); err != nil {
		return nil, errors.Wrap(err, "order service after database")
	}

	return b.Finalize()
}
