package backend

import (
	"context"

	"garbanzo/internal/amqp"
	"garbanzo/internal/services"
	"garbanzo/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the snapshot source and the shared infrastructure the
// source was built with.
type BackendResult struct {
	Source services.SnapshotSource

	// Store is always open: snapshots are saved whichever source is used.
	Store *storage.SQLiteRepository

	// AMQP is nil when no broker is configured or it could not be reached.
	AMQP *amqp.Client

	Cleanup CleanupFunc
}

// Publisher returns the AMQP client as a services.Publisher, or nil when
// messaging is disabled.
func (r *BackendResult) Publisher() services.Publisher {
	if r.AMQP == nil {
		return nil
	}
	return r.AMQP
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// File specific
	LedgerPath string

	// Snapshot store, used by every backend
	SQLiteDBPath string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType selects where snapshots are read from.
type BackendType string

const (
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case FileBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}
