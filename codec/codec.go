// Package codec centralizes record encoding for the graph store and workspace manifests.
//
// The workspace manifest records the codec name, so a workspace written with
// one codec is always reopened with the same one.
package codec

import (
	"slices"
	"strings"
)

// Codec turns graph records and manifests into bytes and back.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default is the codec newly created workspaces record in their manifest.
var Default Codec = GoJSON{}

var builtin = map[string]Codec{
	JSON{}.Name():   JSON{},
	GoJSON{}.Name(): GoJSON{},
}

// ByName resolves a codec name stored in a manifest or configuration file.
// Names are matched case-insensitively.
func ByName(name string) (Codec, bool) {
	c, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names lists the built-in codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
