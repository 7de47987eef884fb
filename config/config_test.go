package config_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabrik/fabrik/config"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, src string) (string, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "fabrik-config")
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, config.DefaultFilename)
	if err := ioutil.WriteFile(file, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return file, func() {
		if err := os.RemoveAll(dir); err != nil {
			t.Errorf("remove temp dir: %v", err)
		}
	}
}

// clearEnv unsets the environment variables the loader falls back to and
// returns a func that restores them.
func clearEnv() func() {
	keys := []string{"FABRIK_ACCOUNT", "FABRIK_REGION", "AWS_DEFAULT_REGION"}
	saved := make(map[string]string)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			saved[k] = v
			os.Unsetenv(k)
		}
	}
	return func() {
		for k, v := range saved {
			os.Setenv(k, v)
		}
	}
}

func TestLoad(t *testing.T) {
	defer clearEnv()()

	file, done := writeConfig(t, `
project "demo" {
  account = "123456789012"
  region  = "eu-west-1"

  stack {
    image          = "example/app:1.2"
    instance_class = "db.r5.xlarge"
    instances      = 3
    container_port = 8080
  }
}
`)
	defer done()

	got, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := &config.Project{
		Name:    "demo",
		Account: "123456789012",
		Region:  "eu-west-1",
		Stack: &config.Stack{
			Image:         "example/app:1.2",
			InstanceClass: "db.r5.xlarge",
			Instances:     3,
			ContainerPort: 8080,
		},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Load() (-got, +want)\n%s", diff)
	}
}

func TestLoad_defaults(t *testing.T) {
	defer clearEnv()()

	file, done := writeConfig(t, `
project "demo" {
}
`)
	defer done()

	got, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := &config.Project{
		Name: "demo",
		Stack: &config.Stack{
			Image:         "amazon/amazon-ecs-sample",
			InstanceClass: "db.r5.large",
			Instances:     1,
			ContainerPort: 80,
		},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Load() (-got, +want)\n%s", diff)
	}
}

func TestLoad_envFallback(t *testing.T) {
	defer clearEnv()()
	os.Setenv("FABRIK_ACCOUNT", "210987654321")
	os.Setenv("AWS_DEFAULT_REGION", "us-east-1")
	defer os.Unsetenv("FABRIK_ACCOUNT")
	defer os.Unsetenv("AWS_DEFAULT_REGION")

	file, done := writeConfig(t, `
project "demo" {
}
`)
	defer done()

	got, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Account != "210987654321" {
		t.Errorf("Account = %q, want env fallback", got.Account)
	}
	if got.Region != "us-east-1" {
		t.Errorf("Region = %q, want env fallback", got.Region)
	}
}

func TestLoad_envExpression(t *testing.T) {
	defer clearEnv()()
	os.Setenv("FABRIK_TEST_IMAGE", "example/app:2.0")
	defer os.Unsetenv("FABRIK_TEST_IMAGE")

	file, done := writeConfig(t, `
project "demo" {
  stack {
    image = env.FABRIK_TEST_IMAGE
  }
}
`)
	defer done()

	got, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Stack.Image != "example/app:2.0" {
		t.Errorf("Image = %q, want value from environment expression", got.Stack.Image)
	}
}

func TestLoad_fileWins(t *testing.T) {
	defer clearEnv()()
	os.Setenv("FABRIK_REGION", "us-east-1")
	defer os.Unsetenv("FABRIK_REGION")

	file, done := writeConfig(t, `
project "demo" {
  region = "eu-west-1"
}
`)
	defer done()

	got, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Region != "eu-west-1" {
		t.Errorf("Region = %q, want value from file", got.Region)
	}
}

func TestLoad_errors(t *testing.T) {
	defer clearEnv()()

	tests := []struct {
		name string
		src  string
	}{
		{"Empty", ``},
		{"Syntax", `project "demo" {`},
		{"UnknownAttribute", `
project "demo" {
  flavor = "strawberry"
}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, done := writeConfig(t, tt.src)
			defer done()
			if _, err := config.Load(file); err == nil {
				t.Errorf("Load() error = nil, want error")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	defer clearEnv()()

	got := config.Default()
	if got.Name != "fabrik" {
		t.Errorf("Name = %q, want fabrik", got.Name)
	}
	if got.Account != "" || got.Region != "" {
		t.Errorf("Account, Region = %q, %q, want unset", got.Account, got.Region)
	}
	if got.Stack == nil || got.Stack.Instances != 1 {
		t.Errorf("Stack defaults not applied: %+v", got.Stack)
	}
}
