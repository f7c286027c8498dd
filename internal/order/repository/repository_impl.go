package repository

import (
	"context"
	"errors"
	"time"

	orderdomain "github.com/inksuite/signet/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ClaimPaid flips pending to paid exactly once; a second caller sees zero
// affected rows and must not credit again.
func (r *repo) ClaimPaid(ctx context.Context, db *gorm.DB, orderNo string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE order_no = ? AND status = ? AND expires_at > ?`,
		orderdomain.StatusPaid, now, now, orderNo, orderdomain.StatusPending, now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, orderNo string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE order_no = ? AND status = ?`,
		orderdomain.StatusCancelled, now, orderNo, orderdomain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ExpireStale(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE status = ? AND expires_at <= ?`,
		orderdomain.StatusExpired, now, orderdomain.StatusPending, now,
	)
	return result.RowsAffected, result.Error
}
