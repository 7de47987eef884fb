package suggest_test

import (
	"fmt"
	"testing"

	"github.com/fabrik/fabrik/suggest"
)

func ExampleString() {
	userProvided := "publik"
	candidates := []string{"public", "private"}

	suggestion := suggest.String(userProvided, candidates)
	fmt.Printf("Did you mean %q?", suggestion)
	// Output: Did you mean "public"?
}

func TestString(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		candidates []string
		want       string
	}{
		{"Exact", "private", []string{"public", "private"}, "private"},
		{"Typo", "pivate", []string{"public", "private"}, "private"},
		{"NoMatch", "db", []string{"public", "private"}, ""},
		{"SecretField", "pasword", []string{"username", "password"}, "password"},
		{"TooFar", "isolated", []string{"username", "password"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suggest.String(tt.input, tt.candidates)
			if got != tt.want {
				t.Errorf("String(%q, %v) got = %q, want = %q", tt.input, tt.candidates, got, tt.want)
			}
		})
	}
}
