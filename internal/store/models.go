package store

import (
	"time"

	"civ-go-home/internal/civ"
)

// TraceRecord is an archived copy of the bus exchange trace.
type TraceRecord struct {
	ID        string           `json:"id"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Entries   []civ.TraceEntry `json:"entries"`
}

// traceID derives a key that sorts in creation order.
func traceID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000Z")
}
