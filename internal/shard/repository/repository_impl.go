package repository

import (
	"context"
	"errors"

	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() sharddomain.Registry {
	return &repo{}
}

// Upsert converges concurrent provisioning attempts onto one row: insert on
// first sight, refresh last_active_at on every later one.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *sharddomain.ShardRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_active_at": record.LastActiveAt,
			"provisioned":    record.Provisioned,
		}),
	}).Create(record).Error
}

func (r *repo) FindByTenantKey(ctx context.Context, db *gorm.DB, tenantKey string) (*sharddomain.ShardRecord, error) {
	var record sharddomain.ShardRecord
	err := db.WithContext(ctx).
		Where("tenant_key = ?", tenantKey).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
