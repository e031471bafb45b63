// Package entity provides core domain entities.
package entity

import (
	"bytes"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all entities.
type ID = uuid.UUID

// NewID generates a new UUIDv7 (time-ordered UUID).
// Batches created later sort after earlier ones, which makes the FEFO
// tie-break on batch id follow receipt order.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ParseID converts string to ID with validation.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// CompareIDs orders ids bytewise, the same way Postgres orders uuid columns.
func CompareIDs(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
