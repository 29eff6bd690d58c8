package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Trace snapshots
	SaveTrace(rec *TraceRecord) error
	GetTrace(id string) (*TraceRecord, error)
	DeleteTrace(id string) error
	ListTraces() ([]*TraceRecord, error)

	// Close the store
	Close() error
}
