package scan

import (
	"context"
	"io"
	"time"
)

// Scanner issues a scan request for a location using an account. Real and
// mock implementations are selected at construction time.
type Scanner interface {
	Scan(ctx context.Context, location Location, account Account) (ScanResult, error)
}

// Sink persists scan results. Implementations must tolerate concurrent calls
// from multiple workers and be idempotent on (entity id, last seen).
type Sink interface {
	Ingest(ctx context.Context, result ScanResult) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, result ScanResult) error

// Ingest calls f.
func (f SinkFunc) Ingest(ctx context.Context, result ScanResult) error {
	return f(ctx, result)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes scan notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for deterministic identifiers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scan IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
