package search

import (
	"context"
	"strings"
)

// Backend is the external full-text index. Index and Delete must be safe to
// retry: both are keyed by document id.
type Backend interface {
	Index(ctx context.Context, index, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, index, id string) error
	Search(ctx context.Context, index, query string, offset, limit int) ([]string, int64, error)
}

// OpenBackend returns the backend for url. An empty url means search is not
// configured and yields a nil Backend; "memory://" selects the in-process index.
func OpenBackend(ctx context.Context, url string) (Backend, error) {
	switch {
	case url == "":
		return nil, nil
	case strings.HasPrefix(url, "memory://"):
		return NewMemoryBackend(), nil
	default:
		b, err := NewElasticBackend(ctx, url)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
