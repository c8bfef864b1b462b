package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinpulse/config"
	"coinpulse/internal/domain"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresClient struct {
	DB        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

// NewClient opens a gorm connection. gorm pings on open, so an unreachable
// server fails here.
func NewClient(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresClient{DB: db, batchSize: 100, logger: zap.NewNop()}, nil
}

// WithLogger sets the logger used for rejected sub-batches.
func (p *PostgresClient) WithLogger(logger *zap.Logger) *PostgresClient {
	p.logger = logger.Named("postgres")
	return p
}

// WithBatchSize sets the sub-batch size for batched inserts.
func (p *PostgresClient) WithBatchSize(n int) *PostgresClient {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

// InitializeAndMigrate connects to Postgres with exponential backoff,
// optionally creates the database first, applies pool settings and runs
// AutoMigrate for every table.
func InitializeAndMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	if cfg.Storage.CreateDatabase {
		if err := CreateDatabase(cfg.Postgres, cfg.Log.Environment); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	dsn := cfg.Postgres.DSN(cfg.Log.Environment)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = cfg.Storage.ConnectTimeout

	var client *PostgresClient
	err := backoff.RetryNotify(func() error {
		c, err := NewClient(dsn)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("postgres not ready, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client.WithLogger(logger).WithBatchSize(cfg.Storage.BatchSize)

	if err := client.configurePool(cfg.Postgres); err != nil {
		return nil, err
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) configurePool(cfg config.PostgresConfig) error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// AutoMigrate creates or updates every table the pipeline uses.
func (p *PostgresClient) AutoMigrate() error {
	if err := p.DB.AutoMigrate(
		&domain.CurrencyRecord{},
		&domain.PriceSnapshot{},
		&domain.AggregatedPricePoint{},
		&domain.AlertRule{},
		&domain.AlertNotification{},
	); err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	return nil
}

func (p *PostgresClient) IsHealthy(ctx context.Context) bool {
	db, err := p.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (p *PostgresClient) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
