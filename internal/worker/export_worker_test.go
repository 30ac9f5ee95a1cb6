package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/amqp"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
	"garbanzo/internal/storage"
)

type fakeExporter struct {
	mu       sync.Mutex
	exported []int64
	err      error
	started  bool
	stopped  bool
}

func (f *fakeExporter) ExportSnapshot(_ context.Context, id int64) (services.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return services.ExportResult{}, f.err
	}
	f.exported = append(f.exported, id)
	return services.ExportResult{SnapshotID: id, Rows: 3}, nil
}

func (f *fakeExporter) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeExporter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

// fakeConsumer delivers its messages, then blocks until ctx is done.
type fakeConsumer struct {
	msgs    []*amqp.SnapshotLoadedMessage
	results []error
}

func (f *fakeConsumer) ConsumeSnapshotLoaded(ctx context.Context, handler func(context.Context, *amqp.SnapshotLoadedMessage) error) error {
	for _, m := range f.msgs {
		f.results = append(f.results, handler(ctx, m))
	}
	<-ctx.Done()
	return ctx.Err()
}

func quietLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Handler = slog.NewTextHandler(io.Discard, nil)
	return log.New(cfg)
}

func TestHandleSnapshotLoaded(t *testing.T) {
	tests := []struct {
		name      string
		msg       *amqp.SnapshotLoadedMessage
		exportErr error
		wantErr   bool
		wantIDs   int
	}{
		{"exports stored snapshot", amqp.NewSnapshotLoadedMessage(7, "abc", "main.beancount", 10), nil, false, 1},
		{"ignores message without id", amqp.NewSnapshotLoadedMessage(0, "abc", "main.beancount", 10), nil, false, 0},
		{"export failure requeues", amqp.NewSnapshotLoadedMessage(7, "abc", "main.beancount", 10), errors.New("sheets down"), true, 0},
		{"pruned snapshot is acked", amqp.NewSnapshotLoadedMessage(7, "abc", "main.beancount", 10), fmt.Errorf("load snapshot 7: %w", storage.ErrNotFound), false, 0},
		{"unconvertible snapshot is acked", amqp.NewSnapshotLoadedMessage(7, "abc", "main.beancount", 10), fmt.Errorf("build table: %w", &aggregate.CurrencyMismatchError{Currencies: []string{"EUR", "USD"}}), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &fakeExporter{err: tt.exportErr}
			w := NewExportWorker(exp, nil, quietLogger())

			err := w.HandleSnapshotLoaded(context.Background(), tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleSnapshotLoaded() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(exp.exported) != tt.wantIDs {
				t.Errorf("exported %v, want %d snapshots", exp.exported, tt.wantIDs)
			}
		})
	}
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	exp := &fakeExporter{}
	cons := &fakeConsumer{msgs: []*amqp.SnapshotLoadedMessage{
		amqp.NewSnapshotLoadedMessage(1, "a", "main.beancount", 2),
		amqp.NewSnapshotLoadedMessage(2, "b", "main.beancount", 4),
	}}
	w := NewExportWorker(exp, cons, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !exp.started || !exp.stopped {
		t.Errorf("exporter lifecycle: started=%v stopped=%v", exp.started, exp.stopped)
	}
	if len(exp.exported) != 2 || exp.exported[0] != 1 || exp.exported[1] != 2 {
		t.Errorf("exported = %v, want [1 2]", exp.exported)
	}
}

func TestRun_WithoutConsumer(t *testing.T) {
	exp := &fakeExporter{}
	w := NewExportWorker(exp, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !exp.stopped {
		t.Error("exporter was not stopped")
	}
}
