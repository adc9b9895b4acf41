package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mesaops/mesa/internal/audit/domain"
	"github.com/mesaops/mesa/internal/config"
	paymentdomain "github.com/mesaops/mesa/internal/payment/domain"
	"github.com/mesaops/mesa/internal/providers/email"
	reservationdomain "github.com/mesaops/mesa/internal/reservation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         paymentdomain.Repository
	Reservations reservationdomain.Repository
	AuditSvc     auditdomain.Service
	Email        email.Provider
	Cfg          config.Config
}

// Service correlates normalized payment events to reservations and applies
// idempotent payment-status transitions.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         paymentdomain.Repository
	reservations reservationdomain.Repository
	auditSvc     auditdomain.Service
	email        email.Provider
	storeTimeout time.Duration
}

func NewService(p Params) *Service {
	timeout := time.Duration(p.Cfg.StoreTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.reconcile"),
		genID:        p.GenID,
		repo:         p.Repo,
		reservations: p.Reservations,
		auditSvc:     p.AuditSvc,
		email:        p.Email,
		storeTimeout: timeout,
	}
}

// Reconcile resolves the reservation an event refers to and applies the
// corresponding transition at most once. The provider payment id is the
// idempotency key: reapplying an already-seen id is a no-op, which makes
// redelivery and retry storms safe.
func (s *Service) Reconcile(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	if event == nil {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidEvent
	}

	if event.Kind == paymentdomain.EventKindUnknown {
		return paymentdomain.Ignored(paymentdomain.IgnoreReasonUnhandledEventType), nil
	}
	if event.ReservationRef == nil {
		return paymentdomain.Ignored(paymentdomain.IgnoreReasonNoReservationReference), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	reservation, err := s.reservations.FindByRef(ctx, s.db, *event.ReservationRef)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if reservation == nil {
		// Stale reference or another environment's reservation; retrying
		// will not fix it, so it is acknowledged upstream.
		s.log.Warn("payment event references unknown reservation",
			zap.String("provider", event.Provider),
			zap.String("reservation_ref", *event.ReservationRef),
			zap.String("provider_payment_id", event.ProviderPaymentID),
		)
		return paymentdomain.ReservationNotFound(), nil
	}

	rawPayload := event.RawPayload
	if len(rawPayload) == 0 {
		rawPayload = []byte("{}")
	}
	record := &paymentdomain.EventRecord{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		EventKind:         event.Kind,
		ReservationID:     &reservation.ID,
		Payload:           datatypes.JSON(rawPayload),
		ReceivedAt:        time.Now().UTC(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if !inserted {
		// The journal already has this (provider, provider_payment_id).
		// A processed row is a plain redelivery; an unprocessed one means
		// a previous attempt died before committing, so reconciliation
		// runs again against the original journal row.
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderPaymentID)
		if err != nil {
			return paymentdomain.Outcome{}, err
		}
		if existing == nil || existing.ProcessedAt != nil {
			return paymentdomain.Ignored(paymentdomain.IgnoreReasonDuplicateEvent), nil
		}
		record = existing
	}

	var outcome paymentdomain.Outcome
	var applied reservationdomain.PaymentStatus

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.reservations.FindByRefForUpdate(ctx, tx, *event.ReservationRef)
		if err != nil {
			return err
		}
		if current == nil {
			outcome = paymentdomain.ReservationNotFound()
			return nil
		}

		if current.LastAppliedPaymentID != nil && *current.LastAppliedPaymentID == event.ProviderPaymentID {
			outcome = paymentdomain.Ignored(paymentdomain.IgnoreReasonDuplicateEvent)
			return nil
		}

		target, ok := targetStatus(event.Kind, current.PaymentStatus)
		if !ok {
			outcome = paymentdomain.Ignored(paymentdomain.IgnoreReasonInvalidTransition)
			return nil
		}

		if err := s.reservations.ApplyPaymentTransition(ctx, tx, current.ID, target, event.ProviderPaymentID); err != nil {
			if errors.Is(err, reservationdomain.ErrTransitionConflict) {
				outcome = paymentdomain.Ignored(paymentdomain.IgnoreReasonDuplicateEvent)
				return nil
			}
			return err
		}

		outcome = paymentdomain.Applied()
		applied = target
		return nil
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	if outcome.Status != paymentdomain.OutcomeApplied {
		return outcome, nil
	}

	// The transition is committed; journal bookkeeping and audit are
	// best-effort from here.
	now := time.Now().UTC()
	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, &reservation.ID, now); err != nil {
		s.log.Warn("failed to mark payment event processed",
			zap.String("provider_payment_id", event.ProviderPaymentID),
			zap.Error(err),
		)
	}

	if event.Amount > 0 && reservation.TotalAmount > 0 && event.Amount != reservation.TotalAmount {
		s.log.Warn("payment event amount differs from reservation total",
			zap.String("reservation_ref", reservation.Ref),
			zap.Int64("event_amount", event.Amount),
			zap.Int64("reservation_total", reservation.TotalAmount),
		)
	}

	s.writeAuditLog(ctx, reservation, event, applied)
	s.notify(reservation, event, applied)

	return outcome, nil
}

func (s *Service) writeAuditLog(ctx context.Context, reservation *reservationdomain.Reservation, event *paymentdomain.PaymentEvent, status reservationdomain.PaymentStatus) {
	if s.auditSvc == nil {
		return
	}

	targetID := reservation.ID.String()
	metadata := map[string]any{
		"provider":            event.Provider,
		"provider_payment_id": event.ProviderPaymentID,
		"event_kind":          event.Kind,
		"payment_status":      string(status),
		"amount":              event.Amount,
		"currency":            event.Currency,
		"occurred_at":         event.OccurredAt.UTC().Format(time.RFC3339),
	}

	action := "reservation.payment." + string(status)
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, action, "reservation", &targetID, metadata); err != nil {
		s.log.Warn("failed to write reconciliation audit log", zap.String("action", action), zap.Error(err))
	}
}

// notify is fire and forget; delivery failure never affects the webhook
// response.
func (s *Service) notify(reservation *reservationdomain.Reservation, event *paymentdomain.PaymentEvent, status reservationdomain.PaymentStatus) {
	if s.email == nil || reservation.CustomerEmail == "" {
		return
	}

	to := []string{reservation.CustomerEmail}
	subject := fmt.Sprintf("Reservation %s payment %s", reservation.Ref, status)
	body := fmt.Sprintf("<p>Your reservation %s is now <strong>%s</strong>.</p>", reservation.Ref, status)
	log := s.log

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.email.Send(ctx, to, subject, body); err != nil {
			log.Warn("failed to send payment notification",
				zap.String("reservation_ref", reservation.Ref),
				zap.Error(err),
			)
		}
	}()
}
