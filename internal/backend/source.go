package backend

import (
	"context"
	"fmt"

	"garbanzo/internal/ledger"
	"garbanzo/internal/services"
	"garbanzo/internal/storage"
)

// FileSource reads a beancount ledger from disk on every load.
type FileSource struct {
	path string
}

var _ services.SnapshotSource = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(ctx context.Context) (*ledger.Snapshot, error) {
	return ledger.Load(ctx, s.path)
}

func (s *FileSource) Describe() string {
	return "file:" + s.path
}

// SnapshotReader is the part of the store a StoreSource reads from.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (storage.SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, id int64) (*ledger.Snapshot, error)
}

// StoreSource serves the most recently stored snapshot, for deployments
// where another process owns the ledger file.
type StoreSource struct {
	store SnapshotReader
	path  string
}

var _ services.SnapshotSource = (*StoreSource)(nil)

func NewStoreSource(store SnapshotReader, dbPath string) *StoreSource {
	return &StoreSource{store: store, path: dbPath}
}

func (s *StoreSource) Load(ctx context.Context) (*ledger.Snapshot, error) {
	info, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.LoadSnapshot(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", info.ID, err)
	}
	return snap, nil
}

func (s *StoreSource) Describe() string {
	return "sqlite:" + s.path
}
