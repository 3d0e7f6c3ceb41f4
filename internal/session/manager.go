package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/models"
)

var (
	// ErrNotFound is returned when no session exists for an upload ID.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned by Save when the stored record changed since the
	// caller read it, or when inserting an upload ID that already exists.
	ErrConflict = errors.New("session was modified concurrently")
)

// Driver names accepted by Open.
const (
	DriverMemory  = "memory"
	DriverDuckDB  = "duckdb"
	DriverLevelDB = "leveldb"
)

// Repository is the durable record store for upload sessions.
//
// Save is a compare-and-swap on Upload.Version: a record with Version 0 is
// inserted only if its upload ID is unused; otherwise the stored version must
// equal the caller's. On success the stored and the caller's Version are both
// incremented.
type Repository interface {
	FindByID(ctx context.Context, uploadID string) (*models.Upload, error)
	FindExpired(ctx context.Context, now time.Time) ([]*models.Upload, error)
	FindIncomplete(ctx context.Context) ([]*models.Upload, error)
	Save(ctx context.Context, u *models.Upload) error
	Remove(ctx context.Context, uploadID string) error
	Close() error
}

// Open creates the repository selected by driver. path is ignored by the
// memory driver; for duckdb it names the database file, for leveldb a directory.
func Open(driver, path string, log logrus.FieldLogger) (Repository, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryRepository(), nil
	case DriverDuckDB:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating session store directory: %w", err)
		}
		return NewDuckRepository(path, log)
	case DriverLevelDB:
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating session store directory: %w", err)
		}
		return NewLevelRepository(path, log)
	default:
		return nil, fmt.Errorf("unknown session store driver %q", driver)
	}
}
