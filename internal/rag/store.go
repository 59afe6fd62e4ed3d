package rag

import "context"

// VectorStore persists historical cases and answers nearest-neighbor
// queries. Implementations are append-only and safe for concurrent use.
type VectorStore interface {
	// Append stores one case. The embedding must match the stored dimension.
	Append(ctx context.Context, c HistoricalCase) error
	// Query returns up to k cases nearest to embedding that pass filter.
	Query(ctx context.Context, embedding []float32, filter Filter, k int) ([]Match, error)
	// Count returns the number of stored cases.
	Count(ctx context.Context) (int, error)
	// Location describes where the store lives (path, DSN host, ARN).
	Location() string
	Close() error
}
