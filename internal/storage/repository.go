package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
	"garbanzo/internal/ledger"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no stored snapshot or export matches.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// SnapshotInfo describes a stored snapshot without its contents.
type SnapshotInfo struct {
	ID       int64
	Source   string
	Checksum string
	LoadedAt time.Time
	Postings int
}

// Export records one write of a snapshot to an external target.
type Export struct {
	ID         int64
	SnapshotID int64
	Target     string
	Ref        string
	Rows       int
	ExportedAt time.Time
}

type SQLiteRepository struct {
	db            *sql.DB
	schemaVersion uint
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows a single writer; serialising here avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, schemaVersion: version}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SchemaVersion is the migration version applied when the repository opened.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type storedConfig struct {
	DefaultStartDate        string   `json:"default_start_date,omitempty"`
	DefaultAccountDepth     int      `json:"default_account_depth"`
	IncomeDeductionAccounts []string `json:"income_deduction_accounts,omitempty"`
}

// SaveSnapshot stores a snapshot and returns its ID. A snapshot whose
// checksum is already stored is not written again; created reports whether
// a new row was inserted.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) (id int64, created bool, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT id FROM snapshots WHERE checksum = ?`, snap.Checksum()).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("lookup snapshot: %w", err)
	}

	optionsJSON, err := json.Marshal(snap.Options())
	if err != nil {
		return 0, false, fmt.Errorf("encode options: %w", err)
	}
	cfg := snap.Config()
	configJSON, err := json.Marshal(storedConfig{
		DefaultStartDate:        cfg.DefaultStartDate.String(),
		DefaultAccountDepth:     cfg.DefaultAccountDepth,
		IncomeDeductionAccounts: cfg.IncomeDeductionAccounts,
	})
	if err != nil {
		return 0, false, fmt.Errorf("encode config: %w", err)
	}
	accounts := make(map[string]string)
	for name, opened := range snap.OpenAccounts() {
		accounts[name] = opened.String()
	}
	accountsJSON, err := json.Marshal(accounts)
	if err != nil {
		return 0, false, fmt.Errorf("encode accounts: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (source, checksum, loaded_at, options_json, config_json, accounts_json, posting_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Source(), snap.Checksum(), snap.LoadedAt().UTC().Format(timeLayout),
		string(optionsJSON), string(configJSON), string(accountsJSON), snap.Len())
	if err != nil {
		return 0, false, fmt.Errorf("insert snapshot: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, false, fmt.Errorf("snapshot id: %w", err)
	}

	if err = insertTransactions(ctx, tx, id, snap.Transactions()); err != nil {
		return 0, false, err
	}
	if err = insertPostings(ctx, tx, id, snap.Postings()); err != nil {
		return 0, false, err
	}
	if err = insertPrices(ctx, tx, id, snap.Prices()); err != nil {
		return 0, false, err
	}

	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot saved to SQLite",
		"snapshot_id", id,
		"postings", snap.Len(),
		"source", snap.Source())

	return id, true, nil
}

func insertTransactions(ctx context.Context, tx *sql.Tx, snapshotID int64, txns []core.Transaction) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (snapshot_id, txn_id, date, flag, payee, narration, tags, links, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transactions: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		meta, err := encodeMeta(t.Meta)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, snapshotID, t.ID, t.Date.String(), t.Flag, t.Payee, t.Narration,
			joinList(t.Tags), joinList(t.Links), meta); err != nil {
			return fmt.Errorf("insert transaction %d: %w", t.ID, err)
		}
	}
	return nil
}

func insertPostings(ctx context.Context, tx *sql.Tx, snapshotID int64, postings []core.Posting) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO postings (snapshot_id, txn_id, date, account, amount, currency,
			cost_number, cost_currency, price_number, price_currency, tags, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare postings: %w", err)
	}
	defer stmt.Close()

	for _, p := range postings {
		meta, err := encodeMeta(p.Meta)
		if err != nil {
			return err
		}
		costNumber, costCurrency := nullableAmount(p.Cost)
		priceNumber, priceCurrency := nullableAmount(p.Price)
		if _, err := stmt.ExecContext(ctx, snapshotID, p.TxnID, p.Date.String(), p.Account,
			p.Amount.String(), p.Currency, costNumber, costCurrency, priceNumber, priceCurrency,
			joinList(p.Tags), meta); err != nil {
			return fmt.Errorf("insert posting for %s: %w", p.Account, err)
		}
	}
	return nil
}

func insertPrices(ctx context.Context, tx *sql.Tx, snapshotID int64, prices []core.Price) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (snapshot_id, date, currency, amount, quote_currency)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare prices: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.ExecContext(ctx, snapshotID, p.Date.String(), p.Currency,
			p.Amount.Number.String(), p.Amount.Currency); err != nil {
			return fmt.Errorf("insert price %s: %w", p.Currency, err)
		}
	}
	return nil
}

// LatestSnapshot describes the most recently loaded snapshot.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context) (SnapshotInfo, error) {
	infos, err := r.ListSnapshots(ctx, 1)
	if err != nil {
		return SnapshotInfo{}, err
	}
	if len(infos) == 0 {
		return SnapshotInfo{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	return infos[0], nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source, checksum, loaded_at, posting_count
		FROM snapshots ORDER BY loaded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var loadedAt string
		if err := rows.Scan(&info.ID, &info.Source, &info.Checksum, &loadedAt, &info.Postings); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if info.LoadedAt, err = time.Parse(timeLayout, loadedAt); err != nil {
			return nil, fmt.Errorf("snapshot %d loaded_at: %w", info.ID, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// LoadSnapshot rebuilds the snapshot stored under id.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, id int64) (*ledger.Snapshot, error) {
	var (
		c                                          ledger.Contents
		loadedAt, optionsJSON, configJSON, accJSON string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT source, checksum, loaded_at, options_json, config_json, accounts_json
		FROM snapshots WHERE id = ?`, id).
		Scan(&c.Source, &c.Checksum, &loadedAt, &optionsJSON, &configJSON, &accJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %d: %w", id, err)
	}

	if c.LoadedAt, err = time.Parse(timeLayout, loadedAt); err != nil {
		return nil, fmt.Errorf("snapshot %d loaded_at: %w", id, err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &c.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if c.Config, err = decodeConfig(configJSON); err != nil {
		return nil, err
	}
	if c.Accounts, err = decodeAccounts(accJSON); err != nil {
		return nil, err
	}
	if c.Transactions, err = r.loadTransactions(ctx, id); err != nil {
		return nil, err
	}
	if c.Postings, err = r.loadPostings(ctx, id); err != nil {
		return nil, err
	}
	if c.Prices, err = r.loadPrices(ctx, id); err != nil {
		return nil, err
	}
	return ledger.NewSnapshot(c), nil
}

func decodeConfig(raw string) (ledger.Config, error) {
	var sc storedConfig
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return ledger.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg := ledger.DefaultConfig()
	cfg.DefaultAccountDepth = sc.DefaultAccountDepth
	cfg.IncomeDeductionAccounts = sc.IncomeDeductionAccounts
	if sc.DefaultStartDate != "" {
		d, err := core.ParseDate(sc.DefaultStartDate)
		if err != nil {
			return ledger.Config{}, fmt.Errorf("decode config: %w", err)
		}
		cfg.DefaultStartDate = d
	}
	return cfg, nil
}

func decodeAccounts(raw string) (map[string]core.Date, error) {
	var stored map[string]string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make(map[string]core.Date, len(stored))
	for name, opened := range stored {
		d, err := core.ParseDate(opened)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}

func (r *SQLiteRepository) loadTransactions(ctx context.Context, id int64) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT txn_id, date, flag, payee, narration, tags, links, meta_json
		FROM transactions WHERE snapshot_id = ? ORDER BY txn_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var date, tags, links, meta string
		if err := rows.Scan(&t.ID, &date, &t.Flag, &t.Payee, &t.Narration, &tags, &links, &meta); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", t.ID, err)
		}
		t.Tags, t.Links = splitList(tags), splitList(links)
		if t.Meta, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) loadPostings(ctx context.Context, id int64) ([]core.Posting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT txn_id, date, account, amount, currency,
			cost_number, cost_currency, price_number, price_currency, tags, meta_json
		FROM postings WHERE snapshot_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	var out []core.Posting
	for rows.Next() {
		var (
			p                            core.Posting
			date, amount, tags, meta     string
			costN, costC, priceN, priceC sql.NullString
		)
		if err := rows.Scan(&p.TxnID, &date, &p.Account, &amount, &p.Currency,
			&costN, &costC, &priceN, &priceC, &tags, &meta); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		if p.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("posting %s: %w", p.Account, err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("posting %s amount %q: %w", p.Account, amount, err)
		}
		if p.Cost, err = scanAmount(costN, costC); err != nil {
			return nil, fmt.Errorf("posting %s cost: %w", p.Account, err)
		}
		if p.Price, err = scanAmount(priceN, priceC); err != nil {
			return nil, fmt.Errorf("posting %s price: %w", p.Account, err)
		}
		p.Tags = splitList(tags)
		if p.Meta, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) loadPrices(ctx context.Context, id int64) ([]core.Price, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, currency, amount, quote_currency
		FROM prices WHERE snapshot_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []core.Price
	for rows.Next() {
		var p core.Price
		var date, amount string
		if err := rows.Scan(&date, &p.Currency, &amount, &p.Amount.Currency); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		if p.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("price %s: %w", p.Currency, err)
		}
		if p.Amount.Number, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("price %s amount %q: %w", p.Currency, amount, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes all but the newest keep snapshots, with their
// postings, prices and exports. It returns the number of snapshots removed.
func (r *SQLiteRepository) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM snapshots ORDER BY loaded_at DESC, id DESC LIMIT -1 OFFSET ?`
	for _, table := range []string{"exports", "prices", "postings", "transactions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE snapshot_id IN (`+stale+`)`, keep); err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Old snapshots pruned", "removed", n, "kept", keep)
	}
	return n, nil
}

// RecordExport stores a completed export and returns it with its ID set.
func (r *SQLiteRepository) RecordExport(ctx context.Context, e Export) (Export, error) {
	if e.ExportedAt.IsZero() {
		e.ExportedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (snapshot_id, target, ref, row_count, exported_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.SnapshotID, e.Target, e.Ref, e.Rows, e.ExportedAt.UTC().Format(timeLayout))
	if err != nil {
		return Export{}, fmt.Errorf("record export: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Export{}, fmt.Errorf("export id: %w", err)
	}
	return e, nil
}

// LastExport returns the most recent export of a snapshot to target.
func (r *SQLiteRepository) LastExport(ctx context.Context, snapshotID int64, target string) (Export, error) {
	e := Export{SnapshotID: snapshotID, Target: target}
	var exportedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, ref, row_count, exported_at FROM exports
		WHERE snapshot_id = ? AND target = ?
		ORDER BY exported_at DESC, id DESC LIMIT 1`, snapshotID, target).
		Scan(&e.ID, &e.Ref, &e.Rows, &exportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Export{}, fmt.Errorf("export of snapshot %d: %w", snapshotID, ErrNotFound)
	}
	if err != nil {
		return Export{}, fmt.Errorf("read export: %w", err)
	}
	if e.ExportedAt, err = time.Parse(timeLayout, exportedAt); err != nil {
		return Export{}, fmt.Errorf("export %d exported_at: %w", e.ID, err)
	}
	return e, nil
}

func nullableAmount(a *core.Amount) (sql.NullString, sql.NullString) {
	if a == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: a.Number.String(), Valid: true}, sql.NullString{String: a.Currency, Valid: true}
}

func scanAmount(number, currency sql.NullString) (*core.Amount, error) {
	if !number.Valid {
		return nil, nil
	}
	n, err := decimal.NewFromString(number.String)
	if err != nil {
		return nil, err
	}
	return &core.Amount{Number: n, Currency: currency.String}, nil
}

// Tags and links never contain spaces, so they are stored space separated.
func joinList(items []string) string {
	return strings.Join(items, " ")
}

func splitList(s string) []string {
	return strings.Fields(s)
}

func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
