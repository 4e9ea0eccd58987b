package storage

import (
	"fmt"
	"strings"

	logx "linkrunner/pkg/logx"
)

// Open initializes the configured driver.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	var (
		b   backend
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		b, err = openFile(cfg)
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &Store{b: b, log: log}, nil
}
