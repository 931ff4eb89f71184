package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrSecretNotConfigured = errors.New("secret_not_configured")
	ErrMissingSignature    = errors.New("missing_signature")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrEventIgnored        = errors.New("event_ignored")
	ErrProviderNotFound    = errors.New("provider_not_found")
)

// Event kinds the reconciliation pipeline acts on. Every other kind is
// acknowledged without side effects.
const (
	EventTypeCheckoutCompleted    = "checkout.session.completed"
	EventTypeSubscriptionUpdated  = "customer.subscription.updated"
	EventTypeSubscriptionDeleted  = "customer.subscription.deleted"
	EventTypeInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is the provider-neutral envelope produced by an adapter.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string
	OccurredAt      time.Time
	RawPayload      []byte

	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession carries the fields needed to establish a membership after
// a completed checkout.
type CheckoutSession struct {
	ID             string
	Mode           string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
}

// Subscription is the raw subscription object as delivered in the event.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  int64
	PriceID           string
	PriceMetadata     map[string]string
	PlanNickname      string
}

// Invoice carries the fields needed to flag a failed payment.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

// EventRecord is the persisted audit row for a received notification.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"column:id;primaryKey"`
	Provider        string         `gorm:"column:provider"`
	ProviderEventID string         `gorm:"column:provider_event_id"`
	EventType       string         `gorm:"column:event_type"`
	Payload         datatypes.JSON `gorm:"column:payload"`
	ReceivedAt      time.Time      `gorm:"column:received_at"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

func (EventRecord) TableName() string {
	return "webhook_events"
}

// Adapter verifies and parses provider notifications.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// AdapterConfig carries provider credentials into an adapter factory.
type AdapterConfig struct {
	WebhookSecret string
}

// AdapterFactory builds adapters for a single provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Repository persists the webhook audit trail.
type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// Service ingests raw provider notifications.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
