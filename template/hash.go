package template

import (
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
)

// Hash computes a unique string based on the contents of the template. Two
// templates synthesized from identical topologies hash identically.
//
// Panics if the template cannot be marshaled, which indicates a bug in the
// synthesizer rather than user input.
func Hash(t *Template) string {
	h := fnv.New64()
	data, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	if _, err := h.Write(data); err != nil {
		panic(err)
	}
	return hex.EncodeToString(h.Sum(nil))
}
