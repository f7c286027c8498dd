package session

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the durable session row on the master store.
type Record struct {
	SessionID string    `gorm:"size:64;primaryKey"`
	Payload   []byte    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "oauth_sessions" }

type sqlBackend struct {
	db  *gorm.DB
	clk clock.Clock
}

func newSQLBackend(db *gorm.DB, clk clock.Clock) *sqlBackend {
	return &sqlBackend{db: db, clk: clk}
}

func (b *sqlBackend) Name() string { return "sql" }

func (b *sqlBackend) Probe(ctx context.Context) error {
	return b.db.WithContext(ctx).Exec("SELECT 1").Error
}

func (b *sqlBackend) Set(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error {
	now := b.clk.Now().UTC()
	record := Record{
		SessionID: sessionID,
		Payload:   payload,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"payload":    record.Payload,
			"expires_at": record.ExpiresAt,
			"updated_at": now,
		}),
	}).Create(&record).Error
}

func (b *sqlBackend) Get(ctx context.Context, sessionID string) ([]byte, error) {
	var record Record
	err := b.db.WithContext(ctx).
		Where("session_id = ? AND expires_at > ?", sessionID, b.clk.Now().UTC()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.Payload, nil
}

func (b *sqlBackend) Delete(ctx context.Context, sessionID string) error {
	return b.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Record{}).Error
}

func (b *sqlBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&Record{}).
		Where("session_id = ? AND expires_at > ?", sessionID, b.clk.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Sweep removes expired rows; Get already filters them, this just keeps the
// table from growing without bound.
func (b *sqlBackend) Sweep(ctx context.Context) (int64, error) {
	result := b.db.WithContext(ctx).
		Where("expires_at <= ?", b.clk.Now().UTC()).
		Delete(&Record{})
	return result.RowsAffected, result.Error
}
