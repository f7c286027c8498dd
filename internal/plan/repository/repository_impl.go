package repository

import (
	"context"
	"errors"

	plandomain "github.com/inksuite/signet/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, planID string) (*plandomain.PlanDefinition, error) {
	var plan plandomain.PlanDefinition
	err := db.WithContext(ctx).
		Where("plan_id = ?", planID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]plandomain.PlanDefinition, error) {
	var plans []plandomain.PlanDefinition
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// Seed installs the fixed catalog when the table is empty. Prices are in
// cents.
func (r *repo) Seed(ctx context.Context, db *gorm.DB) error {
	var count int64
	if err := db.WithContext(ctx).Model(&plandomain.PlanDefinition{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.WithContext(ctx).Create(defaultPlans()).Error
}

func defaultPlans() []plandomain.PlanDefinition {
	return []plandomain.PlanDefinition{
		{
			PlanID:      "basic_monthly",
			Name:        "Starter",
			QuotaCount:  intPtr(2000),
			Price:       2900,
			SortOrder:   1,
			BillingType: plandomain.BillingMonthly,
			Description: strPtr("2000 signatures per month"),
			IsActive:    true,
		},
		{
			PlanID:       "pro_monthly",
			Name:         "Pro",
			QuotaCount:   intPtr(6000),
			Price:        9900,
			SortOrder:    2,
			BillingType:  plandomain.BillingMonthly,
			MonthlyPrice: int64Ptr(9900),
			YearlyPrice:  int64Ptr(89900),
			SavePercent:  intPtr(24),
			Description:  strPtr("6000 signatures per month"),
			IsActive:     true,
		},
		{
			PlanID:       "pro_yearly",
			Name:         "Pro",
			QuotaCount:   intPtr(6000),
			Price:        89900,
			SortOrder:    3,
			BillingType:  plandomain.BillingYearly,
			MonthlyPrice: int64Ptr(9900),
			YearlyPrice:  int64Ptr(89900),
			SavePercent:  intPtr(24),
			Description:  strPtr("Annual billing, 24% off the monthly price"),
			IsActive:     true,
		},
		{
			PlanID:       "enterprise_monthly",
			Name:         "Enterprise",
			Price:        29900,
			SortOrder:    4,
			BillingType:  plandomain.BillingMonthly,
			MonthlyPrice: int64Ptr(29900),
			YearlyPrice:  int64Ptr(238800),
			SavePercent:  intPtr(33),
			Unlimited:    true,
			Description:  strPtr("Unlimited signatures"),
			IsActive:     true,
		},
		{
			PlanID:       "enterprise_yearly",
			Name:         "Enterprise",
			Price:        238800,
			SortOrder:    5,
			BillingType:  plandomain.BillingYearly,
			MonthlyPrice: int64Ptr(29900),
			YearlyPrice:  int64Ptr(238800),
			SavePercent:  intPtr(33),
			Unlimited:    true,
			Description:  strPtr("Annual billing, 33% off the monthly price"),
			IsActive:     true,
		},
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }
