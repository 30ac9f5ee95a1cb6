package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"garbanzo/internal/config"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
	"garbanzo/internal/storage"
)

const tinyLedger = `
option "operating_currency" "EUR"

2024-03-01 * "Bakery"
  Expenses:Food   4.50 EUR
  Assets:Cash
`

func quietLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Handler = slog.NewTextHandler(io.Discard, nil)
	return log.New(cfg)
}

func writeLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.beancount")
	if err := os.WriteFile(path, []byte(tinyLedger), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBackendType(t *testing.T) {
	tests := []struct {
		in    BackendType
		valid bool
	}{
		{FileBackend, true},
		{SQLiteBackend, true},
		{"sheets", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := tt.in.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
	if got := GetBackendTypeStrings(); len(got) != 2 || got[0] != "file" || got[1] != "sqlite" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "memory"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "file",
		LedgerPath:   "main.beancount",
		SQLiteDBPath: "data/garbanzo.db",
		AMQPURL:      "amqp://localhost",
		AMQPExchange: "garbanzo",
		AMQPQueue:    "exports",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != FileBackend || cfg.LedgerPath != "main.beancount" || cfg.AMQPQueue != "exports" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"file ok", Config{Type: FileBackend, LedgerPath: "a.beancount", SQLiteDBPath: "x.db"}, false},
		{"file without ledger", Config{Type: FileBackend, SQLiteDBPath: "x.db"}, true},
		{"sqlite ok", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"invalid type", Config{Type: "nope", SQLiteDBPath: "x.db"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFileSource(t *testing.T) {
	path := writeLedger(t)
	src := NewFileSource(path)

	snap, err := src.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 2 || snap.MainCurrency() != "EUR" {
		t.Errorf("unexpected snapshot: len=%d currency=%s", snap.Len(), snap.MainCurrency())
	}
	if src.Describe() != "file:"+path {
		t.Errorf("Describe() = %q", src.Describe())
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.beancount")).Load(context.Background()); err == nil {
		t.Error("expected error for missing ledger")
	}
}

func TestStoreSource(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "garbanzo.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	src := NewStoreSource(repo, "garbanzo.db")
	ctx := context.Background()

	if _, err := src.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load() on empty store error = %v, want ErrNotFound", err)
	}

	snap, err := ledger.Parse("main.beancount", []byte(tinyLedger))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := repo.SaveSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, err := src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Checksum() != snap.Checksum() || got.Len() != snap.Len() {
		t.Errorf("loaded snapshot differs: %s/%d vs %s/%d", got.Checksum(), got.Len(), snap.Checksum(), snap.Len())
	}
}

func TestFactoryCreateBackend(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(quietLogger())

	res, err := f.CreateBackend(context.Background(), Config{
		Type:         FileBackend,
		LedgerPath:   writeLedger(t),
		SQLiteDBPath: filepath.Join(dir, "data", "garbanzo.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Store == nil || res.Source == nil {
		t.Fatal("backend missing store or source")
	}
	if res.AMQP != nil || res.Publisher() != nil {
		t.Error("AMQP should be disabled without a URL")
	}
	if _, ok := res.Source.(*FileSource); !ok {
		t.Errorf("source = %T, want *FileSource", res.Source)
	}
	if err := res.Cleanup(); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}

	if _, err := f.CreateBackend(context.Background(), Config{Type: FileBackend, SQLiteDBPath: filepath.Join(dir, "x.db")}); err == nil {
		t.Error("expected validation error")
	}
}
