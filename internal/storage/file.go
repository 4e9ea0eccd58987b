package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileBackend keeps each document as <dir>/<name>.
//
// Files:
//   - <name>          current body
//   - <name>.bak      previous body
//   - quarantine/<name>.<ts>.corrupt
type fileBackend struct {
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config) (backend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir}, nil
}

func (f *fileBackend) path(name string) string { return filepath.Join(f.dir, name) }

func (f *fileBackend) read(path string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, ErrClosed
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (f *fileBackend) get(_ context.Context, name string) ([]byte, bool, error) {
	return f.read(f.path(name))
}

func (f *fileBackend) getBackup(_ context.Context, name string) ([]byte, bool, error) {
	return f.read(f.path(name) + ".bak")
}

// put writes a temp file, syncs it, copies the current version to .bak and
// renames the temp file over the document.
func (f *fileBackend) put(_ context.Context, name string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	path := f.path(name)

	tmp, err := os.CreateTemp(f.dir, ".linkrunner-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(body); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if cur, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", cur, 0o600); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (f *fileBackend) remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	err := os.Remove(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *fileBackend) quarantine(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}
	qdir := filepath.Join(f.dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	dst := filepath.Join(qdir, fmt.Sprintf("%s.%s.corrupt", name, time.Now().Format("20060102T150405.000")))
	if err := os.Rename(f.path(name), dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

func (f *fileBackend) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
