package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"garbanzo/internal/ledger"
	"garbanzo/internal/sheets"
	"garbanzo/internal/sheets/memory"
	"garbanzo/internal/storage"
)

func newExportFixture(t *testing.T, data string) (*storage.SQLiteRepository, int64) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "garbanzo.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if data == "" {
		return repo, 0
	}
	snap, err := ledger.Parse("household.beancount", []byte(data))
	if err != nil {
		t.Fatal(err)
	}
	id, _, err := repo.SaveSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatal(err)
	}
	return repo, id
}

type failingWriter struct{ fail string }

func (w failingWriter) WriteTable(_ context.Context, t sheets.Table) (string, error) {
	if t.Name == w.fail {
		return "", errors.New("quota exceeded")
	}
	return "ok:" + t.Name, nil
}

func TestDefaultExportConfig(t *testing.T) {
	cfg := DefaultExportConfig()
	if cfg.Target != "sheets" || cfg.Interval != time.Hour || cfg.Parallelism != 2 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Tables) != 3 {
		t.Errorf("expected 3 default tables, got %v", cfg.Tables)
	}
}

func TestExportService_ExportSnapshot(t *testing.T) {
	repo, id := newExportFixture(t, householdLedger)
	writer := memory.New()
	svc := NewExportService(repo, writer, ExportConfig{Target: "memory"}, quietLogger())

	res, err := svc.ExportSnapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if res.Rows != 9 {
		t.Errorf("Rows = %d, want 9", res.Rows)
	}
	if got := writer.Names(); strings.Join(got, ",") != "Balances,Flows,Monthly" {
		t.Errorf("written tables = %v", got)
	}

	last, err := repo.LastExport(context.Background(), id, "memory")
	if err != nil {
		t.Fatalf("export not recorded: %v", err)
	}
	if last.Rows != 9 || last.Ref != strings.Join(res.Refs, ",") {
		t.Errorf("recorded export = %+v", last)
	}
}

func TestExportService_ExportLatest(t *testing.T) {
	t.Run("no snapshot", func(t *testing.T) {
		repo, _ := newExportFixture(t, "")
		svc := NewExportService(repo, memory.New(), ExportConfig{}, quietLogger())

		res, err := svc.ExportLatest(context.Background())
		if err != nil || !res.Skipped {
			t.Errorf("ExportLatest() = %+v, %v; want skipped", res, err)
		}
	})

	t.Run("exports once", func(t *testing.T) {
		repo, id := newExportFixture(t, householdLedger)
		writer := memory.New()
		svc := NewExportService(repo, writer, ExportConfig{Target: "memory"}, quietLogger())

		res, err := svc.ExportLatest(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Skipped || res.SnapshotID != id {
			t.Errorf("first pass = %+v", res)
		}

		res, err = svc.ExportLatest(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !res.Skipped {
			t.Error("second pass should skip an exported snapshot")
		}
		if writer.Writes() != 3 {
			t.Errorf("Writes() = %d, want 3", writer.Writes())
		}
	})
}

func TestExportService_WriteFailureIsNotRecorded(t *testing.T) {
	repo, id := newExportFixture(t, householdLedger)
	svc := NewExportService(repo, failingWriter{fail: TableFlows}, ExportConfig{}, quietLogger())

	if _, err := svc.ExportSnapshot(context.Background(), id); err == nil {
		t.Fatal("expected write error")
	}
	if _, err := repo.LastExport(context.Background(), id, "sheets"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LastExport() error = %v, want ErrNotFound", err)
	}
}

func TestExportService_UnknownTable(t *testing.T) {
	repo, id := newExportFixture(t, householdLedger)
	svc := NewExportService(repo, memory.New(), ExportConfig{Tables: []string{"Nope"}}, quietLogger())

	_, err := svc.ExportSnapshot(context.Background(), id)
	if err == nil || !strings.Contains(err.Error(), "unknown export table") {
		t.Errorf("error = %v, want unknown export table", err)
	}
}

func TestExportService_MissingSnapshot(t *testing.T) {
	repo, _ := newExportFixture(t, "")
	svc := NewExportService(repo, memory.New(), ExportConfig{}, quietLogger())

	if _, err := svc.ExportSnapshot(context.Background(), 42); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestExportService_Lifecycle(t *testing.T) {
	repo, id := newExportFixture(t, householdLedger)
	writer := memory.New()
	svc := NewExportService(repo, writer, ExportConfig{Interval: time.Hour}, quietLogger())

	if svc.IsRunning() {
		t.Error("service should not be running initially")
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on idle service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx); err == nil {
		t.Error("expected error when starting twice")
	}

	// the first pass runs immediately
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := repo.LastExport(context.Background(), id, "sheets"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup pass did not export the latest snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if svc.IsRunning() {
		t.Error("service should not be running after Stop")
	}
}
