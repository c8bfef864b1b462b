package postgres

import (
	"context"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// UpsertCurrencies inserts new currencies and refreshes existing ones by ID.
func (p *PostgresClient) UpsertCurrencies(ctx context.Context, records []domain.CurrencyRecord) (int, error) {
	return storage.InsertInBatches(ctx, records, p.batchSize,
		func(ctx context.Context, batch []domain.CurrencyRecord) (int, error) {
			tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"symbol", "name", "slug", "rank", "is_active",
					"circulating_supply", "total_supply", "max_supply",
					"date_added", "last_updated",
				}),
			}).Create(&batch)
			return int(tx.RowsAffected), tx.Error
		},
		func(offset, count int, err error) {
			p.logger.Warn("currency sub-batch rejected", zap.Int("offset", offset), zap.Int("count", count), zap.Error(err))
		})
}

func (p *PostgresClient) GetCurrency(ctx context.Context, id int64) (*domain.CurrencyRecord, error) {
	var c domain.CurrencyRecord
	err := p.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if isNotFound(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeactivateCurrenciesExcept marks every active currency not in keep as
// inactive. An empty keep list is a no-op.
func (p *PostgresClient) DeactivateCurrenciesExcept(ctx context.Context, keep []int64) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	tx := p.DB.WithContext(ctx).
		Model(&domain.CurrencyRecord{}).
		Where("is_active = ? AND id NOT IN ?", true, keep).
		Update("is_active", false)
	return tx.RowsAffected, tx.Error
}
