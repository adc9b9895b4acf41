package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ProviderStripe = "stripe"
	ProviderSquare = "square"
)

const (
	EventKindPaymentSucceeded = "payment_succeeded"
	EventKindPaymentFailed    = "payment_failed"
	EventKindRefundSucceeded  = "refund_succeeded"
	EventKindUnknown          = "unknown"
)

// PaymentEvent is the canonical payment event parsed by adapters. It is
// immutable once constructed and never persisted as-is; the EventRecord
// journal keeps the durable trace.
type PaymentEvent struct {
	Provider          string
	Kind              string
	ProviderPaymentID string
	ReservationRef    *string
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

// EventRecord is the durable journal row for a received webhook event.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text;not null"`
	EventKind         string         `json:"event_kind" gorm:"type:text;not null"`
	ReservationID     *snowflake.ID  `json:"reservation_id" gorm:"index"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }
