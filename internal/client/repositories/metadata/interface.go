// Package metadata is the client's durable key-value store. It backs the
// upload queue (key "local_uploads") and the offline ticket cache.
package metadata

import (
	"context"
)

// Repository is a byte-oriented key-value store.
//
// Get returns (nil, nil) for a missing key. SetMany writes all pairs
// atomically: either every key is updated or none is.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
