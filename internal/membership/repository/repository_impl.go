package repository

import (
	"context"
	"time"

	"github.com/cineclub/membersync/internal/membership/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertByEmail(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO memberships (
			id, email, tier, status, processor_customer_id, processor_subscription_id,
			price_id, current_period_end, cancel_at_period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			processor_customer_id = EXCLUDED.processor_customer_id,
			processor_subscription_id = EXCLUDED.processor_subscription_id,
			price_id = EXCLUDED.price_id,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at`,
		membership.ID,
		membership.Email,
		membership.Tier,
		membership.Status,
		membership.ProcessorCustomerID,
		membership.ProcessorSubscriptionID,
		membership.PriceID,
		membership.CurrentPeriodEnd,
		membership.CancelAtPeriodEnd,
		membership.CreatedAt,
		membership.UpdatedAt,
	).Error
}

func (r *repo) UpdateByCustomerID(ctx context.Context, db *gorm.DB, customerID string, membership *domain.Membership) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET tier = ?,
			status = ?,
			processor_subscription_id = ?,
			price_id = ?,
			current_period_end = ?,
			cancel_at_period_end = ?,
			updated_at = ?
		 WHERE processor_customer_id = ?`,
		membership.Tier,
		membership.Status,
		membership.ProcessorSubscriptionID,
		membership.PriceID,
		membership.CurrentPeriodEnd,
		membership.CancelAtPeriodEnd,
		membership.UpdatedAt,
		customerID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkStatusByEmail(ctx context.Context, db *gorm.DB, email string, status string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?,
			updated_at = ?
		 WHERE email = ?`,
		status,
		updatedAt,
		email,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkStatusByCustomerID(ctx context.Context, db *gorm.DB, customerID string, status string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?,
			updated_at = ?
		 WHERE processor_customer_id = ?`,
		status,
		updatedAt,
		customerID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Membership, error) {
	var item domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, tier, status, processor_customer_id, processor_subscription_id,
			price_id, current_period_end, cancel_at_period_end, created_at, updated_at
		 FROM memberships
		 WHERE email = ?
		 LIMIT 1`,
		email,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
