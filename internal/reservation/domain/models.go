package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var (
	ErrNotFound           = errors.New("reservation_not_found")
	ErrTransitionConflict = errors.New("transition_conflict")
)

// Reservation is the slice of the reservation row this subsystem reads and
// writes. Rows are created by the reservation flow and only their payment
// fields are mutated here.
type Reservation struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	Ref                  string        `json:"ref" gorm:"type:text;not null;uniqueIndex"`
	CustomerName         string        `json:"customer_name" gorm:"type:text"`
	CustomerEmail        string        `json:"customer_email" gorm:"type:text"`
	TotalAmount          int64         `json:"total_amount" gorm:"not null"`
	Currency             string        `json:"currency" gorm:"type:text;not null"`
	PaymentStatus        PaymentStatus `json:"payment_status" gorm:"type:text;not null"`
	LastAppliedPaymentID *string       `json:"last_applied_payment_id" gorm:"type:text"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (Reservation) TableName() string { return "reservations" }
