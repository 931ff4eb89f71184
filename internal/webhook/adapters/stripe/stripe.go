package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg webhookdomain.AdapterConfig) (webhookdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, webhookdomain.ErrSecretNotConfigured
	}

	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return webhookdomain.ErrMissingSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return webhookdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return webhookdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(_ context.Context, payload []byte) (*webhookdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case webhookdomain.EventTypeCheckoutCompleted:
		return a.parseCheckoutSession(event, payload)
	case webhookdomain.EventTypeSubscriptionUpdated, webhookdomain.EventTypeSubscriptionDeleted:
		return a.parseSubscription(event, payload)
	case webhookdomain.EventTypeInvoicePaymentFailed:
		return a.parseInvoice(event, payload)
	default:
		return nil, webhookdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID              string                `json:"id"`
	Mode            string                `json:"mode"`
	Customer        stripeRef             `json:"customer"`
	Subscription    stripeRef             `json:"subscription"`
	CustomerEmail   string                `json:"customer_email"`
	CustomerDetails stripeCustomerDetails `json:"customer_details"`
}

type stripeCustomerDetails struct {
	Email string `json:"email"`
}

type stripeSubscription struct {
	ID                string      `json:"id"`
	Customer          stripeRef   `json:"customer"`
	Status            string      `json:"status"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64       `json:"current_period_end"`
	Items             stripeItems `json:"items"`
	Plan              stripePlan  `json:"plan"`
}

type stripeItems struct {
	Data []stripeItem `json:"data"`
}

type stripeItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID       string            `json:"id"`
	Nickname string            `json:"nickname"`
	Metadata map[string]string `json:"metadata"`
}

type stripePlan struct {
	Nickname string `json:"nickname"`
}

type stripeInvoice struct {
	ID           string    `json:"id"`
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
}

// stripeRef accepts either a bare identifier or an expanded object with an
// "id" field, which is how the API interchangeably renders references.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*r = ""
		return nil
	}

	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = stripeRef(id)
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

func (r stripeRef) String() string {
	return strings.TrimSpace(string(r))
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	email := strings.TrimSpace(session.CustomerDetails.Email)
	if email == "" {
		email = strings.TrimSpace(session.CustomerEmail)
	}

	return &webhookdomain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            webhookdomain.EventTypeCheckoutCompleted,
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
		Checkout: &webhookdomain.CheckoutSession{
			ID:             session.ID,
			Mode:           strings.TrimSpace(session.Mode),
			CustomerID:     session.Customer.String(),
			SubscriptionID: session.Subscription.String(),
			CustomerEmail:  email,
		},
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	var priceID string
	var priceMetadata map[string]string
	planNickname := strings.TrimSpace(sub.Plan.Nickname)
	if len(sub.Items.Data) > 0 {
		price := sub.Items.Data[0].Price
		priceID = strings.TrimSpace(price.ID)
		priceMetadata = price.Metadata
		if planNickname == "" {
			planNickname = strings.TrimSpace(price.Nickname)
		}
	}

	return &webhookdomain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            strings.TrimSpace(event.Type),
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
		Subscription: &webhookdomain.Subscription{
			ID:                sub.ID,
			CustomerID:        sub.Customer.String(),
			Status:            strings.TrimSpace(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			PriceID:           priceID,
			PriceMetadata:     priceMetadata,
			PlanNickname:      planNickname,
		},
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if invoice.Customer.String() == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	return &webhookdomain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            webhookdomain.EventTypeInvoicePaymentFailed,
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
		Invoice: &webhookdomain.Invoice{
			ID:             strings.TrimSpace(invoice.ID),
			CustomerID:     invoice.Customer.String(),
			SubscriptionID: invoice.Subscription.String(),
		},
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestampPart string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestampPart = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestampPart == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestampPart, signatures, nil
}

func timestamp(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
