package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS stores each blob as <root>/<id>.enc. Writes go through a temp file
// and rename so a crashed upload never leaves a half-written blob behind.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("blob: failed to create root dir: %w", err)
	}
	return &FS{root: root}, nil
}

func (f *FS) path(id string) (string, error) {
	// Object ids are generated by us (uuid), but refuse anything that
	// could escape the root.
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("blob: invalid object id %q", id)
	}
	return filepath.Join(f.root, id+".enc"), nil
}

func (f *FS) Put(_ context.Context, id string, data []byte) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".put-*")
	if err != nil {
		return fmt.Errorf("blob: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("blob: failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (f *FS) Get(_ context.Context, id string) ([]byte, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: failed to read: %w", err)
	}
	return data, nil
}

func (f *FS) Delete(_ context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: failed to delete: %w", err)
	}
	return nil
}
