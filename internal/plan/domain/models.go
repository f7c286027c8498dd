// Package domain contains the shared plan catalog read by plan reconciliation.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type BillingType string

const (
	BillingMonthly BillingType = "monthly"
	BillingYearly  BillingType = "yearly"
)

var ErrPlanNotFound = errors.New("plan_not_found")

// PlanDefinition lives in the master store and is read-only from the
// ledger's perspective. QuotaCount nil means unlimited.
type PlanDefinition struct {
	ID           int64       `gorm:"primaryKey;autoIncrement"`
	PlanID       string      `gorm:"size:32;uniqueIndex;not null"`
	Name         string      `gorm:"size:64;not null"`
	QuotaCount   *int        `gorm:""`
	Price        int64       `gorm:"not null"`
	IsActive     bool        `gorm:"not null;default:true"`
	SortOrder    int         `gorm:"not null;default:0"`
	Description  *string     `gorm:"size:256"`
	BillingType  BillingType `gorm:"size:16;not null;default:monthly"`
	MonthlyPrice *int64      `gorm:""`
	YearlyPrice  *int64      `gorm:""`
	Unlimited    bool        `gorm:"not null;default:false"`
	SavePercent  *int        `gorm:""`
	CreatedAt    time.Time   `gorm:"not null"`
	UpdatedAt    time.Time   `gorm:"not null"`
}

// TableName sets the database table name.
func (PlanDefinition) TableName() string { return "plan_definitions" }

// NextReset advances a reset anchor by exactly one billing period. The new
// anchor is computed from the previous one, never from "now", so repeated
// resets do not drift.
func NextReset(billingType BillingType, from time.Time) time.Time {
	if billingType == BillingYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, planID string) (*PlanDefinition, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]PlanDefinition, error)
	Seed(ctx context.Context, db *gorm.DB) error
}
