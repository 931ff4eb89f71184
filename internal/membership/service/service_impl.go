package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cineclub/membersync/internal/clock"
	"github.com/cineclub/membersync/internal/config"
	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
	obsmetrics "github.com/cineclub/membersync/internal/observability/metrics"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Resolver   membershipdomain.Resolver
	Repo       membershipdomain.Repository
	Tiers      *config.TierTableHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	resolver   membershipdomain.Resolver
	repo       membershipdomain.Repository
	tiers      *config.TierTableHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) membershipdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("membership.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		resolver:   p.Resolver,
		repo:       p.Repo,
		tiers:      p.Tiers,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleCheckoutCompleted establishes or refreshes a membership after a
// completed checkout. The subscription is refetched so the stored state
// reflects the processor, not the possibly stale event payload.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session *webhookdomain.CheckoutSession) error {
	if session == nil {
		return webhookdomain.ErrInvalidEvent
	}
	if session.Mode != "subscription" || strings.TrimSpace(session.SubscriptionID) == "" {
		s.log.Info("non-subscription checkout ignored",
			zap.String("session_id", session.ID),
			zap.String("mode", session.Mode),
		)
		return nil
	}

	sub, err := s.resolveSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.log.Warn("checkout completed without subscription, skipping",
			zap.String("session_id", session.ID),
			zap.String("customer_id", session.CustomerID),
		)
		return nil
	}
	if sub.CustomerID == "" {
		sub.CustomerID = session.CustomerID
	}

	email := membershipdomain.NormalizeEmail(session.CustomerEmail)
	if email == "" {
		email, err = s.lookupEmail(ctx, sub.CustomerID)
		if err != nil {
			return err
		}
	}

	return s.writeMembership(ctx, email, sub, membershipdomain.NormalizeStatus(sub.Status))
}

// HandleSubscriptionUpdated reconciles membership state against the
// processor's canonical subscription. A past_due subscription keeps its
// past_due membership status.
func (s *Service) HandleSubscriptionUpdated(ctx context.Context, eventSub *webhookdomain.Subscription) error {
	if eventSub == nil {
		return webhookdomain.ErrInvalidEvent
	}

	sub, err := s.resolveSubscription(ctx, eventSub.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		sub = eventSub
	}
	if sub.CustomerID == "" {
		sub.CustomerID = eventSub.CustomerID
	}

	email, err := s.lookupEmail(ctx, sub.CustomerID)
	if err != nil {
		return err
	}

	return s.writeMembership(ctx, email, sub, membershipdomain.NormalizeStatus(sub.Status))
}

// HandleSubscriptionDeleted deactivates the membership. The subscription no
// longer exists upstream, so nothing is refetched: the tier comes from the
// event payload and the stored pricing state is cleared.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, eventSub *webhookdomain.Subscription) error {
	if eventSub == nil {
		return webhookdomain.ErrInvalidEvent
	}

	email, err := s.lookupEmail(ctx, eventSub.CustomerID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	membership := &membershipdomain.Membership{
		ID:                      s.genID.Generate(),
		Email:                   email,
		Tier:                    membershipdomain.ResolveTier(eventSub, s.tiers.Get()),
		Status:                  membershipdomain.StatusInactive,
		ProcessorCustomerID:     strings.TrimSpace(eventSub.CustomerID),
		ProcessorSubscriptionID: strings.TrimSpace(eventSub.ID),
		CancelAtPeriodEnd:       eventSub.CancelAtPeriodEnd,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	return s.persistMembership(ctx, membership)
}

// HandlePaymentFailed flags the membership as past_due without touching its
// tier or subscription linkage. The member is located by resolved email, so
// the patch lands even when the processor customer was recreated and the
// stored customer id no longer matches; the stored id is only consulted when
// the customer resolves to no email at all.
func (s *Service) HandlePaymentFailed(ctx context.Context, invoice *webhookdomain.Invoice) error {
	if invoice == nil {
		return webhookdomain.ErrInvalidEvent
	}
	customerID := strings.TrimSpace(invoice.CustomerID)
	if customerID == "" {
		s.log.Warn("payment failed event without customer, skipping",
			zap.String("invoice_id", invoice.ID),
		)
		return nil
	}

	email, err := s.lookupEmail(ctx, customerID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	var updated bool
	if email != "" {
		updated, err = s.repo.MarkStatusByEmail(ctx, s.db, email, membershipdomain.StatusPastDue, now)
	} else {
		updated, err = s.repo.MarkStatusByCustomerID(ctx, s.db, customerID, membershipdomain.StatusPastDue, now)
	}
	if err != nil {
		s.recordWrite(ctx, "error")
		return err
	}
	if !updated {
		s.log.Warn("payment failed for unknown membership",
			zap.String("customer_id", customerID),
			zap.String("email", email),
		)
		s.recordWrite(ctx, "skipped")
		return nil
	}

	s.recordWrite(ctx, "past_due")
	return nil
}

// GetByEmail returns the membership stored under the normalized email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*membershipdomain.Membership, error) {
	normalized := membershipdomain.NormalizeEmail(email)
	if normalized == "" {
		return nil, membershipdomain.ErrInvalidEmail
	}

	membership, err := s.repo.FindByEmail(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, membershipdomain.ErrMembershipNotFound
	}
	return membership, nil
}

func (s *Service) resolveSubscription(ctx context.Context, id string) (*webhookdomain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	sub, err := s.resolver.Subscription(ctx, id)
	if err != nil {
		s.recordResolve(ctx, "subscription", "error")
		return nil, err
	}
	s.recordResolve(ctx, "subscription", "ok")
	return sub, nil
}

func (s *Service) lookupEmail(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", nil
	}

	email, err := s.resolver.CustomerEmail(ctx, customerID)
	if err != nil {
		s.recordResolve(ctx, "customer", "error")
		return "", err
	}
	s.recordResolve(ctx, "customer", "ok")
	return membershipdomain.NormalizeEmail(email), nil
}

func (s *Service) writeMembership(ctx context.Context, email string, sub *webhookdomain.Subscription, status string) error {
	var priceID *string
	if v := strings.TrimSpace(sub.PriceID); v != "" {
		priceID = &v
	}

	now := s.clock.Now()
	membership := &membershipdomain.Membership{
		ID:                      s.genID.Generate(),
		Email:                   email,
		Tier:                    membershipdomain.ResolveTier(sub, s.tiers.Get()),
		Status:                  status,
		ProcessorCustomerID:     strings.TrimSpace(sub.CustomerID),
		ProcessorSubscriptionID: strings.TrimSpace(sub.ID),
		PriceID:                 priceID,
		CurrentPeriodEnd:        membershipdomain.PeriodEnd(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	return s.persistMembership(ctx, membership)
}

// persistMembership upserts by email when one is known, falls back to
// updating an existing row by processor customer id, and otherwise skips
// the write. Skips are logged, never errors.
func (s *Service) persistMembership(ctx context.Context, membership *membershipdomain.Membership) error {
	if membership.Email != "" {
		if err := s.repo.UpsertByEmail(ctx, s.db, membership); err != nil {
			s.recordWrite(ctx, "error")
			return err
		}
		s.recordWrite(ctx, "upsert")
		return nil
	}

	if membership.ProcessorCustomerID == "" {
		s.log.Warn("membership write skipped, no email or customer id",
			zap.String("subscription_id", membership.ProcessorSubscriptionID),
		)
		s.recordWrite(ctx, "skipped")
		return nil
	}

	updated, err := s.repo.UpdateByCustomerID(ctx, s.db, membership.ProcessorCustomerID, membership)
	if err != nil {
		s.recordWrite(ctx, "error")
		return err
	}
	if !updated {
		s.log.Warn("membership write skipped, no row for customer",
			zap.String("customer_id", membership.ProcessorCustomerID),
		)
		s.recordWrite(ctx, "skipped")
		return nil
	}

	s.recordWrite(ctx, "update")
	return nil
}

func (s *Service) recordWrite(ctx context.Context, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordMembershipWrite(ctx, outcome)
}

func (s *Service) recordResolve(ctx context.Context, object, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordResolverCall(ctx, object, outcome)
}
