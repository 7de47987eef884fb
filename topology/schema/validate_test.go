package schema_test

import (
	"strings"
	"testing"

	"github.com/fabrik/fabrik/topology/schema"
)

type sized struct {
	Name   string `validate:"required"`
	Length int    `validate:"min=8,max=128"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantErr string // empty = no error
	}{
		{"Valid", sized{Name: "password", Length: 16}, ""},
		{"MissingName", sized{Length: 16}, "must be set"},
		{"TooShort", sized{Name: "password", Length: 4}, "must be 8 or more"},
		{"TooLong", sized{Name: "password", Length: 512}, "must be 128 or less"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_fieldName(t *testing.T) {
	err := schema.Validate(sized{Length: 16})
	if err == nil {
		t.Fatalf("Validate() error = nil, want error")
	}
	if !strings.HasPrefix(err.Error(), "Name ") {
		t.Errorf("Validate() error = %q, want field name prefix", err)
	}
}
