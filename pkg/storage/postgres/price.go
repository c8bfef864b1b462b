package postgres

import (
	"context"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// InsertPriceSnapshots writes snapshots in sub-batches. A rejected sub-batch
// is logged and skipped; duplicates of an existing
// (crypto_id, quote_currency, timestamp) are ignored.
func (p *PostgresClient) InsertPriceSnapshots(ctx context.Context, records []domain.PriceSnapshot) (int, error) {
	return storage.InsertInBatches(ctx, records, p.batchSize,
		func(ctx context.Context, batch []domain.PriceSnapshot) (int, error) {
			tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "crypto_id"},
					{Name: "quote_currency"},
					{Name: "timestamp"},
				},
				DoNothing: true,
			}).Create(&batch)
			return int(tx.RowsAffected), tx.Error
		},
		func(offset, count int, err error) {
			p.logger.Warn("price snapshot sub-batch rejected", zap.Int("offset", offset), zap.Int("count", count), zap.Error(err))
		})
}

// QueryPriceSnapshots returns snapshots with timestamp in [From, To), oldest first.
func (p *PostgresClient) QueryPriceSnapshots(ctx context.Context, q domain.SnapshotQuery) ([]domain.PriceSnapshot, error) {
	tx := p.DB.WithContext(ctx).Where("timestamp >= ? AND timestamp < ?", q.From, q.To)
	if q.CryptoID != nil {
		tx = tx.Where("crypto_id = ?", *q.CryptoID)
	}
	if q.QuoteCurrency != "" {
		tx = tx.Where("quote_currency = ?", q.QuoteCurrency)
	}

	var out []domain.PriceSnapshot
	if err := tx.Order("timestamp ASC, crypto_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LatestSnapshots returns up to limit snapshots for one asset, newest first.
func (p *PostgresClient) LatestSnapshots(ctx context.Context, cryptoID int64, quote string, limit int) ([]domain.PriceSnapshot, error) {
	var out []domain.PriceSnapshot
	err := p.DB.WithContext(ctx).
		Where("crypto_id = ? AND quote_currency = ?", cryptoID, quote).
		Order("timestamp DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresClient) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&domain.PriceSnapshot{})
	return tx.RowsAffected, tx.Error
}
