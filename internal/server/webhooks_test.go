package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cineclub/membersync/internal/clock"
	"github.com/cineclub/membersync/internal/config"
	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
	"github.com/cineclub/membersync/internal/webhook/adapters"
	"github.com/cineclub/membersync/internal/webhook/adapters/stripe"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
	webhookrepo "github.com/cineclub/membersync/internal/webhook/repository"
	webhookservice "github.com/cineclub/membersync/internal/webhook/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeMembershipService struct {
	checkoutCalls      int
	updatedCalls       int
	deletedCalls       int
	paymentFailedCalls int
	membership         *membershipdomain.Membership
}

func (f *fakeMembershipService) HandleCheckoutCompleted(ctx context.Context, session *webhookdomain.CheckoutSession) error {
	f.checkoutCalls++
	_ = ctx
	_ = session
	return nil
}

func (f *fakeMembershipService) HandleSubscriptionUpdated(ctx context.Context, sub *webhookdomain.Subscription) error {
	f.updatedCalls++
	_ = ctx
	_ = sub
	return nil
}

func (f *fakeMembershipService) HandleSubscriptionDeleted(ctx context.Context, sub *webhookdomain.Subscription) error {
	f.deletedCalls++
	_ = ctx
	_ = sub
	return nil
}

func (f *fakeMembershipService) HandlePaymentFailed(ctx context.Context, invoice *webhookdomain.Invoice) error {
	f.paymentFailedCalls++
	_ = ctx
	_ = invoice
	return nil
}

func (f *fakeMembershipService) GetByEmail(ctx context.Context, email string) (*membershipdomain.Membership, error) {
	_ = ctx
	_ = email
	if f.membership == nil {
		return nil, membershipdomain.ErrMembershipNotFound
	}
	return f.membership, nil
}

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_srv_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	err = db.Exec(`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newTestServer(t *testing.T, webhookSecret string) (*Server, *fakeMembershipService, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupWebhookTestDB(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	membershipSvc := &fakeMembershipService{}
	cfg := config.Config{StripeWebhookSecret: webhookSecret}
	webhookSvc := webhookservice.NewService(webhookservice.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		MembershipSvc: membershipSvc,
		Adapters:      adapters.NewRegistry(stripe.NewFactory()),
		Repo:          webhookrepo.Provide(),
		Cfg:           cfg,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	engine.HandleMethodNotAllowed = true
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		DB:            db,
		WebhookSvc:    webhookSvc,
		MembershipSvc: membershipSvc,
	})
	return srv, membershipSvc, db
}

func postWebhook(srv *Server, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func signatureHeader(secret string, payload []byte, timestamp int64) string {
	signed := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEventPayload(t *testing.T, eventID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_1",
				"mode":           "subscription",
				"customer":       "cus_1",
				"subscription":   "sub_1",
				"customer_email": "member@example.com",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestWebhookMissingSecretIsConfigurationError(t *testing.T) {
	srv, membershipSvc, _ := newTestServer(t, "")

	payload := checkoutEventPayload(t, "evt_1")
	rec := postWebhook(srv, payload, map[string]string{
		"Stripe-Signature": signatureHeader("whsec_test", payload, time.Now().Unix()),
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("configuration_error")) {
		t.Fatalf("expected configuration_error payload, got %s", rec.Body.String())
	}
	if membershipSvc.checkoutCalls != 0 {
		t.Fatalf("expected no processing without secret")
	}
}

func TestWebhookMissingSignatureIsBadRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, "whsec_test")

	rec := postWebhook(srv, checkoutEventPayload(t, "evt_1"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookBadSignatureIsBadRequest(t *testing.T) {
	srv, membershipSvc, _ := newTestServer(t, "whsec_test")

	payload := checkoutEventPayload(t, "evt_1")
	rec := postWebhook(srv, payload, map[string]string{
		"Stripe-Signature": signatureHeader("whsec_wrong", payload, time.Now().Unix()),
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if membershipSvc.checkoutCalls != 0 {
		t.Fatalf("expected no processing on bad signature")
	}
}

func TestWebhookProcessesCheckoutAndRecordsEvent(t *testing.T) {
	srv, membershipSvc, db := newTestServer(t, "whsec_test")

	payload := checkoutEventPayload(t, "evt_1")
	rec := postWebhook(srv, payload, map[string]string{
		"Stripe-Signature": signatureHeader("whsec_test", payload, time.Now().Unix()),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if membershipSvc.checkoutCalls != 1 {
		t.Fatalf("expected one checkout call, got %d", membershipSvc.checkoutCalls)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM webhook_events WHERE provider_event_id = 'evt_1' AND processed_at IS NOT NULL`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one processed audit row, got %d", count)
	}
}

func TestWebhookRedeliveryStillProcessed(t *testing.T) {
	srv, membershipSvc, db := newTestServer(t, "whsec_test")

	payload := checkoutEventPayload(t, "evt_1")
	headers := map[string]string{
		"Stripe-Signature": signatureHeader("whsec_test", payload, time.Now().Unix()),
	}

	for i := 0; i < 2; i++ {
		rec := postWebhook(srv, payload, headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 on delivery %d, got %d", i+1, rec.Code)
		}
	}

	if membershipSvc.checkoutCalls != 2 {
		t.Fatalf("expected redelivery reprocessed, got %d calls", membershipSvc.checkoutCalls)
	}
	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM webhook_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single audit row, got %d", count)
	}
}

func TestWebhookUnknownKindIsAcknowledged(t *testing.T) {
	srv, membershipSvc, _ := newTestServer(t, "whsec_test")

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_other",
		"type": "customer.created",
		"data": map[string]any{"object": map[string]any{"id": "cus_1"}},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	rec := postWebhook(srv, payload, map[string]string{
		"Stripe-Signature": signatureHeader("whsec_test", payload, time.Now().Unix()),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored kind, got %d: %s", rec.Code, rec.Body.String())
	}
	if membershipSvc.checkoutCalls+membershipSvc.updatedCalls+membershipSvc.deletedCalls+membershipSvc.paymentFailedCalls != 0 {
		t.Fatalf("expected no membership calls for ignored kind")
	}
}

func TestWebhookBase64Envelope(t *testing.T) {
	srv, membershipSvc, _ := newTestServer(t, "whsec_test")

	payload := checkoutEventPayload(t, "evt_1")
	encoded := []byte(base64.StdEncoding.EncodeToString(payload))

	// The signature covers the decoded bytes, not the envelope.
	rec := postWebhook(srv, encoded, map[string]string{
		"Stripe-Signature":          signatureHeader("whsec_test", payload, time.Now().Unix()),
		"Content-Transfer-Encoding": "base64",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if membershipSvc.checkoutCalls != 1 {
		t.Fatalf("expected checkout processed from decoded payload")
	}
}

func TestWebhookUnknownProviderIsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/adyen", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookGetIsMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, "whsec_test")

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMembershipByEmail(t *testing.T) {
	srv, membershipSvc, _ := newTestServer(t, "whsec_test")
	membershipSvc.membership = &membershipdomain.Membership{
		ID:     snowflake.ID(1),
		Email:  "member@example.com",
		Tier:   "gold",
		Status: membershipdomain.StatusActive,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/memberships/member@example.com", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"tier":"gold"`)) {
		t.Fatalf("expected tier in response, got %s", rec.Body.String())
	}

	membershipSvc.membership = nil
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing membership, got %d", rec.Code)
	}
}
