// Package config loads the deployment configuration: the project name, the
// target account and region, and the tunable stack parameters.
//
// Account and region may be left unset, in both the file and the
// environment. The provisioning engine resolves defaults in that case.
package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl2/gohcl"
	"github.com/hashicorp/hcl2/hcl"
	"github.com/hashicorp/hcl2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// DefaultFilename is the configuration file looked up in the project
// directory.
const DefaultFilename = "fabrik.hcl"

type root struct {
	Project *Project `hcl:"project,block"`
}

// A Project is the deployment configuration for one stack.
type Project struct {
	// Name labels the stack in the provisioning engine.
	Name string `hcl:"name,label"`

	// Account and Region identify the provisioning target. Empty means
	// unset.
	Account string `hcl:"account,optional"`
	Region  string `hcl:"region,optional"`

	Stack *Stack `hcl:"stack,block"`
}

// A Stack holds the tunable parameters of the deployment.
type Stack struct {
	Image         string `hcl:"image,optional"`
	InstanceClass string `hcl:"instance_class,optional"`
	Instances     int    `hcl:"instances,optional"`
	ContainerPort int    `hcl:"container_port,optional"`
}

// Load reads and decodes the configuration file. Expressions in the file
// may reference the process environment through the env object.
//
// Account and region fall back to the environment when not set in the file:
// FABRIK_ACCOUNT for the account, FABRIK_REGION then AWS_DEFAULT_REGION for
// the region. Stack parameters not set get defaults.
func Load(file string) (*Project, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, "parse config")
	}

	var r root
	if diags := gohcl.DecodeBody(f.Body, evalContext(), &r); diags.HasErrors() {
		return nil, errors.Wrap(diags, "decode config")
	}
	if r.Project == nil {
		return nil, errors.New("config has no project block")
	}

	p := r.Project
	applyDefaults(p)
	return p, nil
}

// evalContext exposes the process environment to expressions in the config
// file as an env object, so values can be written as env.AWS_PROFILE.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		i := strings.Index(kv, "=")
		if i <= 0 {
			continue
		}
		env[kv[:i]] = cty.StringVal(kv[i+1:])
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

// Default returns the configuration used when no config file exists: an
// unnamed target resolved entirely from the environment.
func Default() *Project {
	p := &Project{Name: "fabrik"}
	applyDefaults(p)
	return p
}

func applyDefaults(p *Project) {
	if p.Account == "" {
		p.Account = os.Getenv("FABRIK_ACCOUNT")
	}
	if p.Region == "" {
		p.Region = os.Getenv("FABRIK_REGION")
	}
	if p.Region == "" {
		p.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if p.Stack == nil {
		p.Stack = &Stack{}
	}
	if p.Stack.Image == "" {
		p.Stack.Image = "amazon/amazon-ecs-sample"
	}
	if p.Stack.InstanceClass == "" {
		p.Stack.InstanceClass = "db.r5.large"
	}
	if p.Stack.Instances == 0 {
		p.Stack.Instances = 1
	}
	if p.Stack.ContainerPort == 0 {
		p.Stack.ContainerPort = 80
	}
}
