package stripeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cineclub/membersync/internal/config"
	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
)

const defaultBaseURL = "https://api.stripe.com"

type stripeSubscription struct {
	ID                string      `json:"id"`
	Customer          string      `json:"customer"`
	Status            string      `json:"status"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64       `json:"current_period_end"`
	Items             stripeItems `json:"items"`
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

type stripeCustomer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

type stripeErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a minimal processor API client covering the lookups the
// reconciliation pipeline needs.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient builds the processor client from configuration.
func NewClient(cfg config.Config) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(cfg.StripeAPIKey),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

// Subscription retrieves a subscription with its price metadata expanded, so
// tier derivation never depends on the unexpanded reference an event carries.
func (c *Client) Subscription(ctx context.Context, id string) (*webhookdomain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, membershipdomain.ErrSubscriptionNotFound
	}

	values := url.Values{}
	values.Set("expand[]", "items.data.price")

	body, status, err := c.doRequest(ctx, "/v1/subscriptions/"+id+"?"+values.Encode())
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, membershipdomain.ErrSubscriptionNotFound
	}
	if status >= http.StatusBadRequest {
		return nil, stripeError(body)
	}

	var sub stripeSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, errors.New("stripe_response_invalid")
	}

	out := &webhookdomain.Subscription{
		ID:                sub.ID,
		CustomerID:        strings.TrimSpace(sub.Customer),
		Status:            strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
	}
	if len(sub.Items.Data) > 0 {
		price := sub.Items.Data[0].Price
		out.PriceID = strings.TrimSpace(price.ID)
		out.PriceMetadata = price.Metadata
		out.PlanNickname = strings.TrimSpace(price.Nickname)
	}
	return out, nil
}

// CustomerEmail retrieves the customer's email. A deleted or unknown customer
// is a legitimate absence and yields an empty string.
func (c *Client) CustomerEmail(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil
	}

	body, status, err := c.doRequest(ctx, "/v1/customers/"+id)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status >= http.StatusBadRequest {
		return "", stripeError(body)
	}

	var customer stripeCustomer
	if err := json.Unmarshal(body, &customer); err != nil {
		return "", err
	}
	if customer.Deleted {
		return "", nil
	}
	return strings.TrimSpace(customer.Email), nil
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, int, error) {
	if c.apiKey == "" {
		return nil, 0, errors.New("stripe_api_key_missing")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func stripeError(body []byte) error {
	var stripeErr stripeErrorResponse
	if err := json.Unmarshal(body, &stripeErr); err != nil {
		return errors.New("stripe_request_failed")
	}
	message := strings.TrimSpace(stripeErr.Error.Message)
	if message == "" {
		return errors.New("stripe_request_failed")
	}
	return fmt.Errorf("stripe_request_failed: %s", message)
}

var _ membershipdomain.Resolver = (*Client)(nil)
