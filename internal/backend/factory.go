package backend

import (
	"context"
	"errors"
	"fmt"

	"garbanzo/internal/amqp"
	"garbanzo/internal/log"
	"garbanzo/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	res := &BackendResult{Store: repo}
	switch config.Type {
	case FileBackend:
		res.Source = NewFileSource(config.LedgerPath)
	case SQLiteBackend:
		res.Source = NewStoreSource(repo, config.SQLiteDBPath)
	default:
		repo.Close()
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	res.AMQP = f.connectAMQP(ctx, config)
	res.Cleanup = func() error {
		var errs []error
		if res.AMQP != nil {
			errs = append(errs, res.AMQP.Close())
		}
		errs = append(errs, repo.Close())
		return errors.Join(errs...)
	}

	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type,
		"source", res.Source.Describe(),
		"schema_version", repo.SchemaVersion(),
		"amqp_enabled", res.AMQP != nil)
	return res, nil
}

// connectAMQP returns nil when messaging is not configured or the broker is
// unreachable; the service then runs without events.
func (f *DefaultFactory) connectAMQP(ctx context.Context, config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}
