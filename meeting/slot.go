package meeting

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Slot is one named unit of durable storage holding the serialized
// collection. Write replaces the previous content in a single step.
type Slot interface {
	Name() string
	// Read returns nil data when the slot has never been written.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Update reads the current content, hands it to fn and writes what fn
	// returns, holding a lock that other processes sharing the slot also
	// take. Nothing is written when fn fails.
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error
}

// FileSlot stores the collection in <dir>/<name>.json. Updates are
// serialized through an advisory lock on <dir>/<name>.lock.
type FileSlot struct {
	name string
	path string
}

func NewFileSlot(dir, name string) (*FileSlot, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &FileSlot{
		name: name,
		path: filepath.Join(dir, name+".json"),
	}, nil
}

func (s *FileSlot) Name() string { return s.name }
func (s *FileSlot) Path() string { return s.path }

func (s *FileSlot) lockPath() string {
	return filepath.Join(filepath.Dir(s.path), s.name+".lock")
}

func (s *FileSlot) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slot file: %w", err)
	}
	return data, nil
}

// Write goes through a temp file and a rename so readers never observe a
// half-written collection.
func (s *FileSlot) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+s.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace slot file: %w", err)
	}
	return nil
}

func (s *FileSlot) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	current, err := s.Read(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.Write(ctx, next)
}
