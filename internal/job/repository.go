package job

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when a record cannot be found by ID.
var ErrRecordNotFound = errors.New("record not found")

// Repository defines the interface for session record storage.
// Records only live as long as the process; there is no durable backend.
type Repository interface {
	// Save stores a record, replacing any record with the same ID.
	Save(ctx context.Context, rec *Record) error

	// FindByID retrieves a record by its session ID.
	// Returns ErrRecordNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// List returns all records.
	List(ctx context.Context) ([]*Record, error)

	// Prune removes terminal records completed before the given time and
	// returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}
