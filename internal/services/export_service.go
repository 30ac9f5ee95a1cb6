package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
	"garbanzo/internal/sheets"
	"garbanzo/internal/storage"
)

// ExportStore is the part of the snapshot store exports need.
type ExportStore interface {
	LatestSnapshot(ctx context.Context) (storage.SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, id int64) (*ledger.Snapshot, error)
	RecordExport(ctx context.Context, e storage.Export) (storage.Export, error)
	LastExport(ctx context.Context, snapshotID int64, target string) (storage.Export, error)
}

// ExportConfig holds configuration for the export service
type ExportConfig struct {
	// Target names the destination in the exports table, e.g. "sheets".
	Target string

	// Tables are the registered table builders to run, in order.
	Tables []string

	// Interval is how often the periodic pass checks the latest snapshot
	// (default: 1h).
	Interval time.Duration

	// Parallelism caps concurrent table writes (default: 2).
	Parallelism int
}

// DefaultExportConfig returns sensible defaults
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Target:      "sheets",
		Tables:      []string{TableMonthly, TableFlows, TableBalances},
		Interval:    time.Hour,
		Parallelism: 2,
	}
}

// ExportResult summarises one export run.
type ExportResult struct {
	SnapshotID int64
	Refs       []string
	Rows       int
	Skipped    bool
}

// ExportService writes aggregate tables of stored snapshots to a
// TableWriter and records each export.
type ExportService struct {
	store  ExportStore
	writer sheets.TableWriter
	config ExportConfig
	logger *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportService(store ExportStore, writer sheets.TableWriter, config ExportConfig, logger *log.Logger) *ExportService {
	def := DefaultExportConfig()
	if config.Target == "" {
		config.Target = def.Target
	}
	if len(config.Tables) == 0 {
		config.Tables = def.Tables
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Parallelism <= 0 {
		config.Parallelism = def.Parallelism
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportService{
		store:  store,
		writer: writer,
		config: config,
		logger: logger.WithComponent(log.ComponentSheets),
	}
}

// ExportSnapshot builds every configured table from the stored snapshot and
// writes them. The export is recorded only when every table was written.
func (s *ExportService) ExportSnapshot(ctx context.Context, snapshotID int64) (ExportResult, error) {
	snap, err := s.store.LoadSnapshot(ctx, snapshotID)
	if err != nil {
		return ExportResult{}, fmt.Errorf("load snapshot %d: %w", snapshotID, err)
	}

	builders := make([]TableBuilder, len(s.config.Tables))
	for i, name := range s.config.Tables {
		if builders[i], err = GetTableBuilder(name); err != nil {
			return ExportResult{}, err
		}
	}

	prices := priceTable(snap)
	refs := make([]string, len(builders))
	rows := make([]int, len(builders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, b := range builders {
		g.Go(func() error {
			t, err := b.Build(snap, prices)
			if err != nil {
				return fmt.Errorf("build %s: %w", s.config.Tables[i], err)
			}
			ref, err := s.writer.WriteTable(gctx, t)
			if err != nil {
				return fmt.Errorf("write %s: %w", t.Name, err)
			}
			refs[i], rows[i] = ref, len(t.Rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "Export failed",
			log.NewFields().WithError(err).WithOperation(log.OpExport).ToSlice()...)
		return ExportResult{}, err
	}

	res := ExportResult{SnapshotID: snapshotID, Refs: refs}
	for _, n := range rows {
		res.Rows += n
	}

	if _, err := s.store.RecordExport(ctx, storage.Export{
		SnapshotID: snapshotID,
		Target:     s.config.Target,
		Ref:        strings.Join(refs, ","),
		Rows:       res.Rows,
	}); err != nil {
		// the tables are written; a missing record only means the next pass exports again
		s.logger.WarnContext(ctx, "Failed to record export", log.FieldError, err, log.FieldSnapshotID, snapshotID)
	}

	s.logger.InfoContext(ctx, "Exported snapshot",
		log.FieldSnapshotID, snapshotID,
		log.FieldChecksum, snap.Checksum(),
		log.FieldRows, res.Rows,
		log.FieldSheetsRef, strings.Join(refs, ","))
	return res, nil
}

// ExportLatest exports the newest stored snapshot unless it was already
// exported to this target. No stored snapshot is not an error.
func (s *ExportService) ExportLatest(ctx context.Context) (ExportResult, error) {
	info, err := s.store.LatestSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.DebugContext(ctx, "No stored snapshot to export")
		return ExportResult{Skipped: true}, nil
	}
	if err != nil {
		return ExportResult{}, fmt.Errorf("latest snapshot: %w", err)
	}

	last, err := s.store.LastExport(ctx, info.ID, s.config.Target)
	switch {
	case err == nil:
		s.logger.DebugContext(ctx, "Latest snapshot already exported",
			log.FieldSnapshotID, info.ID, "exported_at", last.ExportedAt)
		return ExportResult{SnapshotID: info.ID, Skipped: true}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return ExportResult{}, fmt.Errorf("last export: %w", err)
	}

	return s.ExportSnapshot(ctx, info.ID)
}

// Start begins the periodic pass. Returns an error if already running.
func (s *ExportService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("export service is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Export service started",
		"interval", s.config.Interval,
		"target", s.config.Target,
		"tables", strings.Join(s.config.Tables, ","))
	return nil
}

// Stop ends the periodic pass and waits for it to finish.
func (s *ExportService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Export service stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Export service stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the periodic pass is active
func (s *ExportService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ExportService) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// catch up on anything missed while the worker was down
	s.pass(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *ExportService) pass(ctx context.Context) {
	if _, err := s.ExportLatest(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "Periodic export failed", log.FieldError, err)
	}
}
