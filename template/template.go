// Package template translates a finalized topology into a
// CloudFormation-style deployment template.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabrik/fabrik/topology"
	"github.com/pkg/errors"
)

// A Template is the synthesized deployment document.
type Template struct {
	FormatVersion string              `json:"AWSTemplateFormatVersion"`
	Description   string              `json:"Description,omitempty"`
	Resources     map[string]Resource `json:"Resources"`
}

// A Resource is a single entry in the template.
type Resource struct {
	Type           string                 `json:"Type"`
	Properties     map[string]interface{} `json:"Properties,omitempty"`
	DependsOn      []string               `json:"DependsOn,omitempty"`
	DeletionPolicy string                 `json:"DeletionPolicy,omitempty"`
}

// JSON returns the indented JSON encoding of the template. The output is
// deterministic for a given topology.
func (t *Template) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Synthesize translates the topology into a template. Every declared node
// produces at least one template resource; reference edges become Ref and
// GetAtt expressions, explicit ordering constraints become DependsOn.
func Synthesize(top *topology.Topology) (*Template, error) {
	s := &synthesizer{
		ids: make(map[topology.Node]string),
		tmpl: &Template{
			FormatVersion: "2010-09-09",
			Resources:     make(map[string]Resource),
		},
	}
	s.assignIDs(top)

	for _, n := range top.Nodes {
		if err := s.synth(n); err != nil {
			return nil, errors.Wrapf(err, "synthesize %s", n.Kind())
		}
	}

	for _, c := range top.Constraints {
		after := s.ids[c.After]
		res, ok := s.tmpl.Resources[after]
		if !ok {
			return nil, errors.Errorf("constraint references unsynthesized node %s", c.After.Kind())
		}
		res.DependsOn = append(res.DependsOn, s.ids[c.Before])
		s.tmpl.Resources[after] = res
	}

	return s.tmpl, nil
}

type synthesizer struct {
	ids  map[topology.Node]string
	tmpl *Template
}

// assignIDs gives every node a deterministic logical id, derived from the
// node's name where one exists and a per-kind ordinal otherwise.
func (s *synthesizer) assignIDs(top *topology.Topology) {
	ordinals := make(map[string]int)
	next := func(kind string) int {
		ordinals[kind]++
		return ordinals[kind]
	}
	for _, n := range top.Nodes {
		var id string
		switch n := n.(type) {
		case *topology.NetworkFabric:
			id = "NetworkFabric"
		case *topology.AddressPartition:
			id = "Partition" + exportName(n.Name)
		case *topology.TrafficFilter:
			id = "Filter" + exportName(n.Owner)
		case *topology.SecretMaterial:
			id = fmt.Sprintf("Secret%d", next("secret"))
		case *topology.StatefulServiceCluster:
			id = fmt.Sprintf("Database%d", next("database"))
		case *topology.ComputeCluster:
			id = fmt.Sprintf("ComputeCluster%d", next("compute"))
		case *topology.TaskTemplate:
			id = fmt.Sprintf("TaskDefinition%d", next("task"))
		case *topology.ServiceInstance:
			id = fmt.Sprintf("Service%d", next("service"))
		case *topology.TrafficDistributor:
			id = fmt.Sprintf("Distributor%d", next("distributor"))
		case *topology.Listener:
			id = fmt.Sprintf("Listener%d", next("listener"))
		case *topology.PermissionGrant:
			id = fmt.Sprintf("Grant%d", next("grant"))
		default:
			id = fmt.Sprintf("Resource%d", next("resource"))
		}
		if _, taken := s.tmpl.Resources[id]; taken || hasID(s.ids, id) {
			id = fmt.Sprintf("%s%d", id, next("dup:"+id))
		}
		s.ids[n] = id
	}
}

func hasID(ids map[topology.Node]string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *synthesizer) ref(n topology.Node) map[string]interface{} {
	return map[string]interface{}{"Ref": s.ids[n]}
}

func (s *synthesizer) getAtt(n topology.Node, attr string) map[string]interface{} {
	return map[string]interface{}{"Fn::GetAtt": []string{s.ids[n], attr}}
}

// secretResolve produces a dynamic reference that resolves a secret field
// at provisioning time. The template never contains the value itself.
func (s *synthesizer) secretResolve(ref topology.SecretFieldRef) map[string]interface{} {
	return map[string]interface{}{
		"Fn::Sub": fmt.Sprintf("{{resolve:secretsmanager:${%s}:SecretString:%s}}", s.ids[ref.Secret], ref.Field),
	}
}

func (s *synthesizer) add(id string, r Resource) {
	s.tmpl.Resources[id] = r
}

func (s *synthesizer) synth(n topology.Node) error {
	id := s.ids[n]
	switch n := n.(type) {
	case *topology.NetworkFabric:
		s.add(id, Resource{
			Type: "AWS::EC2::VPC",
			Properties: map[string]interface{}{
				"CidrBlock":          "10.0.0.0/16",
				"EnableDnsSupport":   true,
				"EnableDnsHostnames": true,
			},
		})

	case *topology.AddressPartition:
		index := partitionIndex(n)
		s.add(id, Resource{
			Type: "AWS::EC2::Subnet",
			Properties: map[string]interface{}{
				"VpcId":               s.ref(n.Fabric),
				"CidrBlock":           fmt.Sprintf("10.0.%d.0/%d", index, n.AddressRangeSize),
				"MapPublicIpOnLaunch": n.Class == topology.ExternallyReachable,
			},
		})

	case *topology.TrafficFilter:
		props := map[string]interface{}{
			"GroupDescription": n.Owner,
			"VpcId":            s.ref(n.Fabric),
		}
		if len(n.Rules) > 0 {
			ingress := make([]interface{}, len(n.Rules))
			for i, r := range n.Rules {
				ingress[i] = map[string]interface{}{
					"SourceSecurityGroupId": s.getAtt(r.Source, "GroupId"),
					"IpProtocol":            r.Protocol,
					"FromPort":              r.Port,
					"ToPort":                r.Port,
					"Description":           r.Description,
				}
			}
			props["SecurityGroupIngress"] = ingress
		}
		s.add(id, Resource{Type: "AWS::EC2::SecurityGroup", Properties: props})

	case *topology.SecretMaterial:
		tmplJSON, err := json.Marshal(n.Template)
		if err != nil {
			return errors.Wrap(err, "marshal secret template")
		}
		s.add(id, Resource{
			Type: "AWS::SecretsManager::Secret",
			Properties: map[string]interface{}{
				"GenerateSecretString": map[string]interface{}{
					"SecretStringTemplate": string(tmplJSON),
					"GenerateStringKey":    n.Generated.Name,
					"PasswordLength":       n.Generated.Length,
					"ExcludeCharacters":    n.Generated.ExcludeCharacters,
				},
			},
		})

	case *topology.StatefulServiceCluster:
		userField, err := nonGeneratedField(n.AdminSecret)
		if err != nil {
			return err
		}
		s.add(id, Resource{
			Type: "AWS::DocDB::DBCluster",
			Properties: map[string]interface{}{
				"MasterUsername":      s.secretResolve(n.AdminSecret.Field(userField)),
				"MasterUserPassword":  s.secretResolve(n.AdminSecret.Field(n.AdminSecret.Generated.Name)),
				"VpcSecurityGroupIds": []interface{}{s.getAtt(n.Filter, "GroupId")},
				"SubnetIds":           []interface{}{s.ref(n.Partition)},
			},
			// The stack owns the database; tearing the stack down removes
			// it rather than leaving a retained copy.
			DeletionPolicy: "Delete",
		})
		for i := 0; i < n.Instances; i++ {
			s.add(fmt.Sprintf("%sInstance%d", id, i+1), Resource{
				Type: "AWS::DocDB::DBInstance",
				Properties: map[string]interface{}{
					"DBClusterIdentifier": s.ref(n),
					"DBInstanceClass":     n.InstanceClass,
				},
				DeletionPolicy: "Delete",
			})
		}

	case *topology.ComputeCluster:
		s.add(id, Resource{Type: "AWS::ECS::Cluster"})

	case *topology.TaskTemplate:
		ports := make([]interface{}, len(n.Ports))
		for i, p := range n.Ports {
			ports[i] = map[string]interface{}{"ContainerPort": p.ContainerPort}
		}
		secretEnv := make([]interface{}, len(n.SecretEnv))
		for i, b := range n.SecretEnv {
			secretEnv[i] = map[string]interface{}{
				"Name":      b.Name,
				"ValueFrom": s.secretResolve(b.Ref),
			}
		}
		s.add(id, Resource{
			Type: "AWS::ECS::TaskDefinition",
			Properties: map[string]interface{}{
				"Cpu":                     fmt.Sprintf("%d", n.CPU),
				"Memory":                  fmt.Sprintf("%d", n.MemoryMiB),
				"NetworkMode":             "awsvpc",
				"RequiresCompatibilities": []interface{}{"FARGATE"},
				"ContainerDefinitions": []interface{}{
					map[string]interface{}{
						"Name":         "main",
						"Image":        n.Image,
						"PortMappings": ports,
						"Secrets":      secretEnv,
					},
				},
			},
		})

	case *topology.ServiceInstance:
		assign := "DISABLED"
		if n.AssignPublicAddress {
			assign = "ENABLED"
		}
		s.add(id, Resource{
			Type: "AWS::ECS::Service",
			Properties: map[string]interface{}{
				"Cluster":        s.ref(n.Cluster),
				"TaskDefinition": s.ref(n.Task),
				"DesiredCount":   1,
				"LaunchType":     "FARGATE",
				"NetworkConfiguration": map[string]interface{}{
					"AwsvpcConfiguration": map[string]interface{}{
						"AssignPublicIp": assign,
						"Subnets":        []interface{}{s.ref(n.Partition)},
						"SecurityGroups": []interface{}{s.getAtt(n.Filter, "GroupId")},
					},
				},
			},
		})

	case *topology.TrafficDistributor:
		scheme := "internal"
		if n.InternetFacing {
			scheme = "internet-facing"
		}
		var subnets []interface{}
		for _, p := range n.Fabric.Partitions {
			if p.Class == topology.ExternallyReachable {
				subnets = append(subnets, s.ref(p))
			}
		}
		s.add(id, Resource{
			Type: "AWS::ElasticLoadBalancingV2::LoadBalancer",
			Properties: map[string]interface{}{
				"Scheme":  scheme,
				"Subnets": subnets,
			},
		})

	case *topology.Listener:
		targets := make([]interface{}, len(n.Targets))
		for i, t := range n.Targets {
			targets[i] = s.ref(t)
		}
		s.add(id, Resource{
			Type: "AWS::ElasticLoadBalancingV2::Listener",
			Properties: map[string]interface{}{
				"LoadBalancerArn": s.ref(n.Distributor),
				"Port":            n.Port,
				"Protocol":        n.Protocol,
				"DefaultActions": []interface{}{
					map[string]interface{}{
						"Type":    "forward",
						"Targets": targets,
					},
				},
			},
		})

	case *topology.PermissionGrant:
		resources := make([]interface{}, len(n.Resources))
		for i, r := range n.Resources {
			resources[i] = s.ref(r)
		}
		s.add(id, Resource{
			Type: "AWS::IAM::Policy",
			Properties: map[string]interface{}{
				"PolicyName": id,
				"PolicyDocument": map[string]interface{}{
					"Version": "2012-10-17",
					"Statement": []interface{}{
						map[string]interface{}{
							"Effect":   "Allow",
							"Action":   stringSlice(n.Actions),
							"Resource": resources,
						},
					},
				},
				"Roles": []interface{}{s.getAtt(n.Identity, "ExecutionRole")},
			},
		})

	default:
		return errors.Errorf("no synthesis rule for %s", n.Kind())
	}
	return nil
}

// partitionIndex returns the position of the partition within its fabric,
// used to carve a distinct address block per partition.
func partitionIndex(p *topology.AddressPartition) int {
	for i, other := range p.Fabric.Partitions {
		if other == p {
			return i
		}
	}
	return 0
}

func nonGeneratedField(s *topology.SecretMaterial) (string, error) {
	keys := make([]string, 0, len(s.Template))
	for k := range s.Template {
		keys = append(keys, k)
	}
	if len(keys) != 1 {
		return "", errors.Errorf("secret must have exactly one template field for a database identity, got %d", len(keys))
	}
	return keys[0], nil
}

func stringSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// exportName converts a user supplied name to an exported logical id
// fragment: non-alphanumeric characters are dropped and the following
// character is upper cased.
func exportName(name string) string {
	var b strings.Builder
	up := true
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			up = true
			continue
		}
		if up {
			b.WriteString(strings.ToUpper(string(r)))
			up = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
