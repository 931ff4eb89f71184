package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
	"gorm.io/gorm"
)

var (
	ErrMembershipNotFound   = errors.New("membership_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidEmail         = errors.New("invalid_email")
)

// Membership status values. Failed invoice payments park a membership in
// past_due; subscription updates carry past_due through unchanged.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusPastDue  = "past_due"
	StatusUnknown  = "unknown"
)

// TierUnknown is assigned when no pricing signal maps to a named tier.
const TierUnknown = "unknown"

// Membership is one reconciled row per member, keyed by normalized email.
type Membership struct {
	ID                      snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	Email                   string       `gorm:"column:email" json:"email"`
	Tier                    string       `gorm:"column:tier" json:"tier"`
	Status                  string       `gorm:"column:status" json:"status"`
	ProcessorCustomerID     string       `gorm:"column:processor_customer_id" json:"processor_customer_id"`
	ProcessorSubscriptionID string       `gorm:"column:processor_subscription_id" json:"processor_subscription_id"`
	// PriceID and CurrentPeriodEnd are nullable: a deleted subscription has
	// no pricing linkage, which reads as absence rather than "".
	PriceID                 *string      `gorm:"column:price_id" json:"price_id"`
	CurrentPeriodEnd        *time.Time   `gorm:"column:current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd       bool         `gorm:"column:cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt               time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Membership) TableName() string {
	return "memberships"
}

// Resolver fetches canonical subscription and customer state from the
// payment processor, because event payloads may be stale or partial.
type Resolver interface {
	// Subscription retrieves a subscription with its price metadata expanded.
	Subscription(ctx context.Context, id string) (*webhookdomain.Subscription, error)
	// CustomerEmail retrieves the customer's email address. A deleted or
	// unknown customer yields an empty string, not an error.
	CustomerEmail(ctx context.Context, id string) (string, error)
}

// Repository persists membership rows.
type Repository interface {
	UpsertByEmail(ctx context.Context, db *gorm.DB, membership *Membership) error
	UpdateByCustomerID(ctx context.Context, db *gorm.DB, customerID string, membership *Membership) (bool, error)
	MarkStatusByEmail(ctx context.Context, db *gorm.DB, email string, status string, updatedAt time.Time) (bool, error)
	MarkStatusByCustomerID(ctx context.Context, db *gorm.DB, customerID string, status string, updatedAt time.Time) (bool, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Membership, error)
}

// Service applies classified notifications to the membership table.
type Service interface {
	HandleCheckoutCompleted(ctx context.Context, session *webhookdomain.CheckoutSession) error
	HandleSubscriptionUpdated(ctx context.Context, sub *webhookdomain.Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, sub *webhookdomain.Subscription) error
	HandlePaymentFailed(ctx context.Context, invoice *webhookdomain.Invoice) error
	GetByEmail(ctx context.Context, email string) (*Membership, error)
}
