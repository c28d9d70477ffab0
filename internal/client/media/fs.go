package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FSStore keeps artifacts as files in a single directory. Refs are bare
// file names, never paths.
type FSStore struct {
	fs  afero.Fs
	dir string
}

// NewFSStore creates dir on fs if needed.
func NewFSStore(fsys afero.Fs, dir string) (*FSStore, error) {
	abs, err := filex.EnsureDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	return &FSStore{fs: fsys, dir: abs}, nil
}

func (s *FSStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: bad ref %q", ErrArtifactNotFound, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

func (s *FSStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := uuid.NewString() + ".jpg"
	p, _ := s.path(ref)
	if err := filex.WriteFileAtomic(s.fs, p, data); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return ref, nil
}

func (s *FSStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrArtifactNotFound, ref)
	}
	return b, nil
}

func (s *FSStore) Delete(ctx context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", ref, err)
	}
	return nil
}
