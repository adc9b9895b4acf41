package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OutcomeStatus classifies what reconciliation did with an event. All three
// values are acknowledged to the provider with a 2xx; only transport-level
// errors surface as non-2xx.
type OutcomeStatus string

const (
	OutcomeApplied             OutcomeStatus = "applied"
	OutcomeIgnored             OutcomeStatus = "ignored"
	OutcomeReservationNotFound OutcomeStatus = "reservation_not_found"
)

const (
	IgnoreReasonUnhandledEventType     = "unhandled-event-type"
	IgnoreReasonNoReservationReference = "no-reservation-reference"
	IgnoreReasonDuplicateEvent         = "duplicate-event"
	IgnoreReasonInvalidTransition      = "invalid-transition"
)

type Outcome struct {
	Status OutcomeStatus
	Reason string
}

func Applied() Outcome { return Outcome{Status: OutcomeApplied} }

func Ignored(reason string) Outcome {
	return Outcome{Status: OutcomeIgnored, Reason: reason}
}

func ReservationNotFound() Outcome {
	return Outcome{Status: OutcomeReservationNotFound}
}

// AdapterConfig carries provider credentials resolved from startup
// configuration.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter authenticates and normalizes a provider's webhook delivery.
// Verify must operate on the exact raw bytes received.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service is the webhook ingestion entry point consumed by the HTTP layer.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}

// Reconciler applies a normalized event to the reservation store.
type Reconciler interface {
	Reconcile(ctx context.Context, event *PaymentEvent) (Outcome, error)
}

// Repository persists the webhook event journal.
type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, reservationID *snowflake.ID, processedAt time.Time) error
}
