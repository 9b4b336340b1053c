// Package gcs moves payloads and emitted documents in and out of Cloud
// Storage. Plain file paths are read and written directly, which is the
// development and recovery path.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Store implements pipeline.Storage against gs:// URIs and local paths.
// It assumes Application Default Credentials are configured.
type Store struct{}

// NewStore creates a storage adapter.
func NewStore() *Store {
	return &Store{}
}

// Fetch downloads the bytes behind a gs:// URI, or reads a local file for
// any other path.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "gs://") {
		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, fmt.Errorf("Fetch: read local file %q: %w", uri, err)
		}
		return data, nil
	}

	bucket, object, err := splitURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: create storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: open object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: read object: %w", err)
	}
	return data, nil
}

// Upload writes data behind a gs:// URI, or to a local file for any other
// path.
func (s *Store) Upload(ctx context.Context, uri string, data []byte) error {
	if !strings.HasPrefix(uri, "gs://") {
		if err := os.MkdirAll(filepath.Dir(uri), 0o755); err != nil {
			return fmt.Errorf("Upload: create directory: %w", err)
		}
		if err := os.WriteFile(uri, data, 0o644); err != nil {
			return fmt.Errorf("Upload: write local file %q: %w", uri, err)
		}
		return nil
	}

	bucket, object, err := splitURI(uri)
	if err != nil {
		return fmt.Errorf("Upload: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("Upload: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Upload: write to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return nil
}

// ObjectName extracts the bare filename from a gs:// URI or local path.
func ObjectName(uri string) string {
	if strings.HasPrefix(uri, "gs://") {
		trimmed := strings.TrimPrefix(uri, "gs://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	return filepath.Base(uri)
}

func splitURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	return parts[0], parts[1], nil
}
