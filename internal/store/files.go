package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Files is a Source and a Sink over a local directory. Keys are slash
// separated paths relative to Dir.
type Files struct {
	Dir string
}

// List returns the regular files below Dir, in lexical order.
func (f Files) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.Dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.Dir, err)
	}
	return keys, nil
}

// Get reads the file of key.
func (f Files) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Put writes payload to the file of key, creating parent directories.
func (f Files) Put(_ context.Context, key string, payload []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// path resolves key below Dir, refusing keys escaping it.
func (f Files) path(key string) (string, error) {
	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.Dir, local), nil
}
