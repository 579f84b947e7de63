package model

import (
	"fmt"
	"strings"
)

// EntityType is the closed set of entity categories.
// New categories require a schema change; unknown names map to Other.
type EntityType uint8

const (
	Person EntityType = iota
	Organization
	Location
	Event
	Concept
	Method
	Content
	Data
	Artifact
	NaturalObject
	Creature
	Other
)

var entityTypeNames = [...]string{
	Person:        "Person",
	Organization:  "Organization",
	Location:      "Location",
	Event:         "Event",
	Concept:       "Concept",
	Method:        "Method",
	Content:       "Content",
	Data:          "Data",
	Artifact:      "Artifact",
	NaturalObject: "NaturalObject",
	Creature:      "Creature",
	Other:         "Other",
}

func (t EntityType) String() string {
	if t.Valid() {
		return entityTypeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// Valid reports whether t is one of the declared types.
func (t EntityType) Valid() bool {
	return t <= Other
}

// MarshalText implements encoding.TextMarshaler.
func (t EntityType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid entity type %d", t)
	}
	return []byte(entityTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EntityType) UnmarshalText(b []byte) error {
	v, ok := ParseEntityType(string(b))
	if !ok {
		return fmt.Errorf("unknown entity type %q", b)
	}
	*t = v
	return nil
}

// ParseEntityType parses a type name case-insensitively.
// Unknown names return Other and ok=false.
func ParseEntityType(s string) (EntityType, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	for i, name := range entityTypeNames {
		if strings.EqualFold(name, s) {
			return EntityType(i), true
		}
	}
	return Other, false
}

// EntityTypes returns all declared entity types in declaration order.
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(entityTypeNames))
	for i := range entityTypeNames {
		out = append(out, EntityType(i))
	}
	return out
}

// Collection names a vector index collection inside a workspace.
type Collection uint8

const (
	CollectionEntities Collection = iota + 1
	CollectionChunks
)

func (c Collection) String() string {
	switch c {
	case CollectionEntities:
		return "entities"
	case CollectionChunks:
		return "chunks"
	default:
		return fmt.Sprintf("Collection(%d)", c)
	}
}
