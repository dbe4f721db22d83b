// Package idgen generates identifiers for sessions and runs.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID from gen, e.g. "sess_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Session is the generator for session IDs.
var Session Generator = Prefixed("sess_", UUIDv7())

// ParsePrefixed checks that id is prefix followed by a valid UUID.
func ParsePrefixed(prefix, id string) error {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return fmt.Errorf("idgen: %q lacks prefix %q", id, prefix)
	}
	if _, err := uuid.Parse(rest); err != nil {
		return fmt.Errorf("idgen: invalid UUID in %q: %w", id, err)
	}
	return nil
}
