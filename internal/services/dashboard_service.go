// Package services orchestrates ledger snapshots, the aggregation engine,
// persistence, messaging and exports.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/amqp"
	"garbanzo/internal/cache"
	"garbanzo/internal/core"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
)

var ErrNotLoaded = errors.New("no ledger snapshot loaded")

// SnapshotSource produces a fresh snapshot on every call.
type SnapshotSource interface {
	Load(ctx context.Context) (*ledger.Snapshot, error)
	Describe() string
}

// SnapshotStore persists loaded snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) (id int64, created bool, err error)
}

// SnapshotPruner is implemented by stores that can drop old snapshots.
type SnapshotPruner interface {
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// Publisher announces stored snapshots to other processes.
type Publisher interface {
	PublishSnapshotLoaded(ctx context.Context, msg *amqp.SnapshotLoadedMessage) error
}

// DashboardConfig holds the defaults applied to queries that leave a field
// unset.
type DashboardConfig struct {
	Grain     core.Grain
	Depth     int
	Segments  int
	CacheSize int
	CacheTTL  time.Duration
	// Retention is how many stored snapshots survive a save. Zero keeps all.
	Retention int
}

func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		Grain:     core.Monthly,
		Depth:     3,
		Segments:  aggregate.DefaultSegments,
		CacheSize: 100,
		CacheTTL:  5 * time.Minute,
	}
}

// loaded is everything derived from one snapshot. It is replaced as a whole.
type loaded struct {
	snap       *ledger.Snapshot
	prices     *aggregate.PriceTable
	snapshotID int64
}

// DashboardService serves aggregate queries against the current snapshot.
// The snapshot is swapped atomically on reload; queries in flight keep the
// snapshot they started with.
type DashboardService struct {
	source    SnapshotSource
	store     SnapshotStore
	publisher Publisher
	cfg       DashboardConfig
	logger    *log.Logger
	structLog *log.StructuredLogger

	current  atomic.Pointer[loaded]
	reloadMu sync.Mutex

	caches   *cache.Manager
	rows     *cache.Loader[[]aggregate.Row]
	incomes  *cache.Loader[[]aggregate.IncomeExpenseRow]
	segments *cache.Loader[[]aggregate.Segment]
	points   *cache.Loader[[]aggregate.BalancePoint]
	accounts *cache.Loader[[]core.AccountSummary]
}

// NewDashboardService wires a service. store and publisher may be nil.
func NewDashboardService(source SnapshotSource, store SnapshotStore, publisher Publisher, caches *cache.Manager, logger *log.Logger, cfg DashboardConfig) *DashboardService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentAggregate)
	if caches == nil {
		caches = cache.NewManager(logger.Logger)
	}
	def := DefaultDashboardConfig()
	if !cfg.Grain.IsValid() {
		cfg.Grain = def.Grain
	}
	if cfg.Segments <= 0 {
		cfg.Segments = def.Segments
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	s := &DashboardService{
		source:    source,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		structLog: log.NewStructuredLogger(logger),
		caches:    caches,
		rows:      newLoader[[]aggregate.Row](caches, cfg),
		incomes:   newLoader[[]aggregate.IncomeExpenseRow](caches, cfg),
		segments:  newLoader[[]aggregate.Segment](caches, cfg),
		points:    newLoader[[]aggregate.BalancePoint](caches, cfg),
		accounts:  newLoader[[]core.AccountSummary](caches, cfg),
	}
	return s
}

func newLoader[T any](m *cache.Manager, cfg DashboardConfig) *cache.Loader[T] {
	lru := cache.NewLRUCache[T](cfg.CacheSize, cfg.CacheTTL)
	m.Register(lru)
	return cache.NewLoader(lru)
}

// priceTable indexes the snapshot's price directives. A ledger without any
// gets nil, so flows filter by currency instead of failing to convert.
func priceTable(snap *ledger.Snapshot) *aggregate.PriceTable {
	prices := snap.Prices()
	if len(prices) == 0 {
		return nil
	}
	return aggregate.NewPriceTable(prices)
}

// ReloadResult describes the outcome of Reload.
type ReloadResult struct {
	Checksum   string
	Postings   int
	SnapshotID int64
	Changed    bool
	Duration   time.Duration
}

// prune trims the store to the configured retention. Failures are logged
// and the reload goes on.
func (s *DashboardService) prune(ctx context.Context) {
	p, ok := s.store.(SnapshotPruner)
	if !ok || s.cfg.Retention <= 0 {
		return
	}
	if _, err := p.PruneSnapshots(ctx, s.cfg.Retention); err != nil {
		s.logger.WarnContext(ctx, "Failed to prune old snapshots",
			log.FieldError, err, "keep", s.cfg.Retention)
	}
}

// Reload reads the source again and swaps in the new snapshot when its
// checksum differs from the current one. On failure the current snapshot
// stays in place.
func (s *DashboardService) Reload(ctx context.Context) (ReloadResult, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	snap, err := s.source.Load(ctx)
	if err != nil {
		s.structLog.LogError(ctx, "Ledger reload failed", err, log.ComponentLedger, log.OpReload,
			log.NewFields().WithSnapshot(s.source.Describe(), "", 0))
		return ReloadResult{}, fmt.Errorf("load %s: %w", s.source.Describe(), err)
	}

	res := ReloadResult{Checksum: snap.Checksum(), Postings: snap.Len()}
	if cur := s.current.Load(); cur != nil && cur.snap.Checksum() == snap.Checksum() {
		res.SnapshotID = cur.snapshotID
		res.Duration = time.Since(start)
		s.logger.DebugContext(ctx, "Ledger unchanged, keeping snapshot", log.FieldChecksum, snap.Checksum())
		return res, nil
	}

	if s.store != nil {
		id, created, err := s.store.SaveSnapshot(ctx, snap)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to persist snapshot, serving it from memory only",
				log.FieldError, err, log.FieldOperation, log.OpSave)
		} else {
			res.SnapshotID = id
			if !created {
				s.logger.DebugContext(ctx, "Snapshot already stored", log.FieldSnapshotID, id)
			} else {
				s.prune(ctx)
			}
		}
	}

	s.current.Store(&loaded{
		snap:       snap,
		prices:     priceTable(snap),
		snapshotID: res.SnapshotID,
	})
	purged := s.caches.PurgeAll()
	res.Changed = true
	res.Duration = time.Since(start)

	s.structLog.LogSnapshotLoaded(ctx, snap.Source(), snap.Checksum(), snap.Len(), res.Duration)
	if purged > 0 {
		s.logger.DebugContext(ctx, "Query cache purged", "entries", purged)
	}

	if s.publisher != nil && res.SnapshotID != 0 {
		msg := amqp.NewSnapshotLoadedMessage(res.SnapshotID, snap.Checksum(), snap.Source(), snap.Len())
		if err := s.publisher.PublishSnapshotLoaded(ctx, msg); err != nil {
			// the snapshot is stored; the worker's periodic pass picks it up
			s.logger.WarnContext(ctx, "Failed to publish snapshot loaded message",
				log.FieldError, err, log.FieldSnapshotID, res.SnapshotID)
		}
	}

	return res, nil
}

// Watch reloads every interval until ctx is done. Reload errors are logged
// and the previous snapshot keeps serving.
func (s *DashboardService) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Watching ledger for changes", "interval", interval, "source", s.source.Describe())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "Periodic reload failed", log.FieldError, err)
			}
		}
	}
}

// Snapshot returns the current snapshot, or nil before the first load.
func (s *DashboardService) Snapshot() *ledger.Snapshot {
	if cur := s.current.Load(); cur != nil {
		return cur.snap
	}
	return nil
}

// Ready reports whether a snapshot has been loaded.
func (s *DashboardService) Ready() bool {
	return s.current.Load() != nil
}

// SnapshotInfo summarises the snapshot being served.
type SnapshotInfo struct {
	SnapshotID   int64     `json:"snapshot_id,omitempty"`
	Source       string    `json:"source"`
	Checksum     string    `json:"checksum"`
	LoadedAt     time.Time `json:"loaded_at"`
	Postings     int       `json:"postings"`
	MainCurrency string    `json:"main_currency"`
	Currencies   []string  `json:"currencies"`
	Prices       int       `json:"prices"`
}

func (s *DashboardService) Info() (SnapshotInfo, error) {
	cur := s.current.Load()
	if cur == nil {
		return SnapshotInfo{}, ErrNotLoaded
	}
	return SnapshotInfo{
		SnapshotID:   cur.snapshotID,
		Source:       cur.snap.Source(),
		Checksum:     cur.snap.Checksum(),
		LoadedAt:     cur.snap.LoadedAt(),
		Postings:     cur.snap.Len(),
		MainCurrency: cur.snap.MainCurrency(),
		Currencies:   cur.snap.Currencies(),
		Prices:       cur.prices.Len(),
	}, nil
}

// CacheStats reports hit counters of the query caches.
func (s *DashboardService) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"rows":           s.rows.Cache().Stats(),
		"income_expense": s.incomes.Cache().Stats(),
		"segments":       s.segments.Cache().Stats(),
		"balances":       s.points.Cache().Stats(),
		"accounts":       s.accounts.Cache().Stats(),
	}
}
