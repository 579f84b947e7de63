package model

import (
	"strings"
	"unicode"
)

// NormalizeName case-folds name, trims it and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityKey returns the deduplication key for an entity name and type.
func EntityKey(name string, t EntityType) string {
	return NormalizeName(name) + "|" + strings.ToLower(t.String())
}

// NormalizeLabel upper-cases a relation label and joins its words with underscores.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToUpper(label)), "_")
}

// Tokens splits a normalized name into alphanumeric tokens.
func Tokens(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
