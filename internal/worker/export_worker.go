// Package worker runs the export side of garbanzo: it reacts to stored
// snapshots and writes their tables to the configured spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/amqp"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
	"garbanzo/internal/storage"
)

const stopTimeout = 10 * time.Second

// Exporter is the part of the export service the worker drives.
type Exporter interface {
	ExportSnapshot(ctx context.Context, snapshotID int64) (services.ExportResult, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Consumer delivers SnapshotLoaded messages until ctx is done.
type Consumer interface {
	ConsumeSnapshotLoaded(ctx context.Context, handler func(context.Context, *amqp.SnapshotLoadedMessage) error) error
}

// ExportWorker exports every snapshot announced on the bus. The exporter's
// periodic pass covers messages lost while the worker or broker was down.
type ExportWorker struct {
	exporter Exporter
	consumer Consumer
	logger   *log.Logger
}

// NewExportWorker wires a worker. consumer may be nil, in which case only the
// periodic pass runs.
func NewExportWorker(exporter Exporter, consumer Consumer, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportWorker{
		exporter: exporter,
		consumer: consumer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleSnapshotLoaded exports the snapshot named by msg. A returned error
// makes the consumer requeue the message, so failures that no retry can fix
// are logged and acknowledged instead.
func (w *ExportWorker) HandleSnapshotLoaded(ctx context.Context, msg *amqp.SnapshotLoadedMessage) error {
	w.logger.InfoContext(ctx, "Processing snapshot loaded message",
		log.FieldSnapshotID, msg.SnapshotID,
		log.FieldChecksum, msg.Checksum,
		log.FieldPostings, msg.Postings)

	if msg.SnapshotID <= 0 {
		// nothing stored to export; requeueing would loop forever
		w.logger.WarnContext(ctx, "Ignoring message without snapshot id", log.FieldChecksum, msg.Checksum)
		return nil
	}

	res, err := w.exporter.ExportSnapshot(ctx, msg.SnapshotID)
	if err != nil {
		if permanent(err) {
			w.logger.ErrorContext(ctx, "Dropping snapshot that cannot be exported",
				log.FieldSnapshotID, msg.SnapshotID, log.FieldError, err)
			return nil
		}
		return fmt.Errorf("export snapshot %d: %w", msg.SnapshotID, err)
	}

	w.logger.InfoContext(ctx, "Successfully exported snapshot",
		log.FieldSnapshotID, res.SnapshotID,
		log.FieldRows, res.Rows)
	return nil
}

// permanent reports whether err comes from the snapshot itself rather than
// from the writer or transport.
func permanent(err error) bool {
	var mismatch *aggregate.CurrencyMismatchError
	var loadErr *ledger.LoadError
	return errors.Is(err, storage.ErrNotFound) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &loadErr)
}

// Run starts the exporter's periodic pass, whose first run catches up on
// snapshots missed while the worker was down, then consumes messages until
// ctx is done.
func (w *ExportWorker) Run(ctx context.Context) error {
	if err := w.exporter.Start(ctx); err != nil {
		return fmt.Errorf("start export service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := w.exporter.Stop(stopCtx); err != nil {
			w.logger.WarnContext(ctx, "Export service did not stop cleanly", log.FieldError, err)
		}
	}()

	if w.consumer == nil {
		w.logger.InfoContext(ctx, "No AMQP consumer configured, running periodic exports only")
		<-ctx.Done()
		return nil
	}

	err := w.consumer.ConsumeSnapshotLoaded(ctx, w.HandleSnapshotLoaded)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
