package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Document names. The file driver uses them as file names.
const (
	DocSettings  = "settings.json"
	DocDomains   = "domains.json"
	DocProjects  = "projects.json"
	DocEditRun   = "edit-run.json"
	DocRemoveRun = "remove-run.json"
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is the data directory
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"`
}

// backend stores opaque document bodies.
type backend interface {
	// get returns (nil, false, nil) when the document does not exist.
	get(ctx context.Context, name string) ([]byte, bool, error)
	getBackup(ctx context.Context, name string) ([]byte, bool, error)
	// put replaces the document and keeps the previous body as its backup.
	put(ctx context.Context, name string, body []byte) error
	remove(ctx context.Context, name string) error
	// quarantine moves a broken body aside so it is never loaded again.
	quarantine(ctx context.Context, name string) (string, error)
	close() error
}
