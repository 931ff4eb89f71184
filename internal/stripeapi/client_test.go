package stripeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := &Client{
		apiKey:  "sk_test",
		baseURL: server.URL,
		client:  server.Client(),
	}
	return client, server
}

func TestSubscriptionRequestsPriceExpansion(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("expand[]")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"cancel_at_period_end": true,
			"current_period_end": 1767225600,
			"items": {"data": [{"price": {"id": "price_1", "nickname": "Gold", "metadata": {"tier": "gold"}}}]}
		}`))
	}))
	defer server.Close()

	sub, err := client.Subscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if gotPath != "/v1/subscriptions/sub_1" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("unexpected auth header %s", gotAuth)
	}
	if gotQuery != "items.data.price" {
		t.Fatalf("expected price expansion, got %q", gotQuery)
	}
	if sub.Status != "past_due" {
		t.Fatalf("expected raw status past_due, got %s", sub.Status)
	}
	if sub.PriceID != "price_1" || sub.PriceMetadata["tier"] != "gold" {
		t.Fatalf("expected expanded price, got %+v", sub)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end")
	}
}

func TestSubscriptionNotFound(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": "resource_missing", "message": "No such subscription"}}`))
	}))
	defer server.Close()

	_, err := client.Subscription(context.Background(), "sub_missing")
	if !errors.Is(err, membershipdomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription not found, got %v", err)
	}
}

func TestCustomerEmail(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cus_1", "email": " Member@Example.com "}`))
	}))
	defer server.Close()

	email, err := client.CustomerEmail(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("customer email: %v", err)
	}
	if email != "Member@Example.com" {
		t.Fatalf("expected trimmed email, got %q", email)
	}
}

func TestCustomerEmailAbsenceIsNotAnError(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{{
		name: "deleted customer",
		handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id": "cus_1", "deleted": true}`))
		},
	}, {
		name: "unknown customer",
		handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": "resource_missing", "message": "No such customer"}}`))
		},
	}, {
		name: "no email on record",
		handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id": "cus_1", "email": null}`))
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(tt.handler)
			defer server.Close()

			email, err := client.CustomerEmail(context.Background(), "cus_1")
			if err != nil {
				t.Fatalf("expected absence, not error: %v", err)
			}
			if email != "" {
				t.Fatalf("expected empty email, got %q", email)
			}
		})
	}
}

func TestServerErrorPropagates(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "something broke"}}`))
	}))
	defer server.Close()

	if _, err := client.Subscription(context.Background(), "sub_1"); err == nil {
		t.Fatalf("expected error from 500 response")
	}
	if _, err := client.CustomerEmail(context.Background(), "cus_1"); err == nil {
		t.Fatalf("expected error from 500 response")
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := &Client{baseURL: "http://127.0.0.1:0"}
	client.client = http.DefaultClient

	if _, err := client.Subscription(context.Background(), "sub_1"); err == nil {
		t.Fatalf("expected error without api key")
	}
}
