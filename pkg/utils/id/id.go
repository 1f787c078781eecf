// Package id provides unique ID generation for chatbase entities.
//
// Every persisted entity (documents, conversations, messages, knowledge
// bases) uses a string UUID v4 primary key; vector-store fragment IDs are
// derived as "<document-id>:<chunk-index>" so re-processing a document
// overwrites its previous fragments in place.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a new random UUID v4 string.
func New() string {
	return uuid.NewString()
}

// NewN returns n new UUID strings.
func NewN(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return ids
}

// Validate reports whether s is a well-formed UUID.
func Validate(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Fragment builds the deterministic vector-store ID for a document chunk.
func Fragment(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}
