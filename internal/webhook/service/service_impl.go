package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cineclub/membersync/internal/clock"
	"github.com/cineclub/membersync/internal/config"
	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
	obsmetrics "github.com/cineclub/membersync/internal/observability/metrics"
	"github.com/cineclub/membersync/internal/webhook/adapters"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	MembershipSvc membershipdomain.Service
	Adapters      *adapters.Registry
	Repo          webhookdomain.Repository
	Cfg           config.Config
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	membershipSvc membershipdomain.Service
	adapters      *adapters.Registry
	repo          webhookdomain.Repository
	webhookSecret string
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		membershipSvc: p.MembershipSvc,
		adapters:      p.Adapters,
		repo:          p.Repo,
		webhookSecret: strings.TrimSpace(p.Cfg.StripeWebhookSecret),
		obsMetrics:    p.ObsMetrics,
	}
}

// IngestWebhook verifies a raw provider notification against the shared
// secret, records it, and applies it to the membership table. A missing
// secret is a deployment defect surfaced before any signature check.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return webhookdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, webhookdomain.AdapterConfig{
		WebhookSecret: s.webhookSecret,
	})
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrEventIgnored) {
			s.recordIgnored(ctx, provider)
			s.log.Info("webhook event ignored", zap.String("provider", provider))
			return nil
		}
		return err
	}

	record := &webhookdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		// Redelivery. The handlers are idempotent, so the event is applied
		// again rather than skipped; only the audit row is reused.
		s.log.Info("webhook event redelivered",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
	}

	if err := s.dispatch(ctx, event); err != nil {
		return err
	}

	if inserted {
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			s.log.Warn("failed to mark webhook event processed",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Error(err),
			)
		}
	}

	s.recordProcessed(ctx, provider, event.Type)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *webhookdomain.Event) error {
	switch event.Type {
	case webhookdomain.EventTypeCheckoutCompleted:
		return s.membershipSvc.HandleCheckoutCompleted(ctx, event.Checkout)
	case webhookdomain.EventTypeSubscriptionUpdated:
		return s.membershipSvc.HandleSubscriptionUpdated(ctx, event.Subscription)
	case webhookdomain.EventTypeSubscriptionDeleted:
		return s.membershipSvc.HandleSubscriptionDeleted(ctx, event.Subscription)
	case webhookdomain.EventTypeInvoicePaymentFailed:
		return s.membershipSvc.HandlePaymentFailed(ctx, event.Invoice)
	default:
		return webhookdomain.ErrInvalidEvent
	}
}

func (s *Service) recordProcessed(ctx context.Context, provider, eventType string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType)
}

func (s *Service) recordIgnored(ctx context.Context, provider string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordIgnoredEvent(ctx, provider)
}
