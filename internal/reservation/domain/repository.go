package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads and mutates the payment slice of reservation rows. The
// ForUpdate variant takes a row lock and must run inside a transaction; it is
// the single point of serialization for concurrent deliveries targeting the
// same reservation.
type Repository interface {
	FindByRef(ctx context.Context, db *gorm.DB, ref string) (*Reservation, error)
	FindByRefForUpdate(ctx context.Context, tx *gorm.DB, ref string) (*Reservation, error)
	ApplyPaymentTransition(ctx context.Context, tx *gorm.DB, id snowflake.ID, status PaymentStatus, providerPaymentID string) error
}
