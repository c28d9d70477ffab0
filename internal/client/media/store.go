// Package media is the local artifact store that holds captured photos until
// they reach the server. Artifacts are addressed by opaque string refs.
package media

import (
	"context"
	"errors"
)

// ErrArtifactNotFound is returned when a ref cannot be resolved to bytes.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store saves, resolves and deletes captured artifacts.
//
// Delete of an unknown ref is not an error, so a synced artifact can be
// cleaned up more than once.
type Store interface {
	Save(ctx context.Context, data []byte) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}
