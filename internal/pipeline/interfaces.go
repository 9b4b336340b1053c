package pipeline

import "context"

// Extractor produces a raw vendor payload from document bytes. The
// concrete implementation lives in internal/extract; the interface exists
// so callers and tests can substitute their own.
type Extractor interface {
	Extract(ctx context.Context, docBytes []byte) (map[string]any, error)
}

// Storage abstracts payload fetch and output upload. The concrete
// implementation lives in internal/gcs.
type Storage interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
	Upload(ctx context.Context, uri string, data []byte) error
}
