package postgres

import (
	"context"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// InsertAggregatedPoints is insert-if-absent on (crypto_id, interval_type, timestamp),
// so two racing aggregation passes cannot write the same bucket twice.
func (p *PostgresClient) InsertAggregatedPoints(ctx context.Context, points []domain.AggregatedPricePoint) (int, error) {
	return storage.InsertInBatches(ctx, points, p.batchSize,
		func(ctx context.Context, batch []domain.AggregatedPricePoint) (int, error) {
			tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "crypto_id"},
					{Name: "interval_type"},
					{Name: "timestamp"},
				},
				DoNothing: true,
			}).Create(&batch)
			return int(tx.RowsAffected), tx.Error
		},
		func(offset, count int, err error) {
			p.logger.Warn("history sub-batch rejected", zap.Int("offset", offset), zap.Int("count", count), zap.Error(err))
		})
}

// ExistsAggregationForWindow reports whether any point for interval has a
// timestamp in (start, end]. The previous window's point sits exactly on start
// and does not count. A nil cryptoID matches every asset.
func (p *PostgresClient) ExistsAggregationForWindow(ctx context.Context, cryptoID *int64, interval domain.IntervalType, start, end time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM price_history WHERE interval_type = ? AND timestamp > ? AND timestamp <= ?)`
	args := []interface{}{string(interval), start, end}
	if cryptoID != nil {
		query = `SELECT EXISTS(SELECT 1 FROM price_history WHERE interval_type = ? AND timestamp > ? AND timestamp <= ? AND crypto_id = ?)`
		args = append(args, *cryptoID)
	}

	var exists bool
	if err := p.DB.WithContext(ctx).Raw(query, args...).Scan(&exists).Error; err != nil {
		return false, err
	}
	return exists, nil
}

// QueryAggregatedPoints returns history for interval in [from, to], oldest first.
func (p *PostgresClient) QueryAggregatedPoints(ctx context.Context, interval domain.IntervalType, cryptoID *int64, from, to time.Time) ([]domain.AggregatedPricePoint, error) {
	tx := p.DB.WithContext(ctx).
		Where("interval_type = ? AND timestamp BETWEEN ? AND ?", string(interval), from, to)
	if cryptoID != nil {
		tx = tx.Where("crypto_id = ?", *cryptoID)
	}

	var out []domain.AggregatedPricePoint
	if err := tx.Order("timestamp ASC, crypto_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresClient) DeleteHistoryBefore(ctx context.Context, interval domain.IntervalType, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("interval_type = ? AND timestamp < ?", string(interval), before).
		Delete(&domain.AggregatedPricePoint{})
	return tx.RowsAffected, tx.Error
}
