package repository

import (
	"context"
	"errors"
	"time"

	invitedomain "github.com/inksuite/signet/internal/invite/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invitedomain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*invitedomain.InviteCode, error) {
	var record invitedomain.InviteCode
	err := db.WithContext(ctx).
		Where("code = ? AND is_active = ?", code, true).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invitedomain.ErrInvalidCode
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *invitedomain.InviteCode) error {
	return db.WithContext(ctx).Create(code).Error
}

// ConsumeUse takes one usage slot. The budget guard lives in the statement
// so used_count can never pass max_usage, however many callers race.
func (r *repo) ConsumeUse(ctx context.Context, db *gorm.DB, codeID int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invite_codes
		 SET used_count = used_count + 1, updated_at = ?
		 WHERE id = ? AND used_count < max_usage`,
		now, codeID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseUse gives a slot back after a redeem that could not complete.
func (r *repo) ReleaseUse(ctx context.Context, db *gorm.DB, codeID int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invite_codes
		 SET used_count = used_count - 1, updated_at = ?
		 WHERE id = ? AND used_count > 0`,
		now, codeID,
	).Error
}
