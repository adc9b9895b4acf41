package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mesaops/mesa/internal/payment/domain"
	pkgdb "github.com/mesaops/mesa/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_payment_id, event_kind, reservation_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_payment_id = ?
		 LIMIT 1`,
		provider,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent journals the event and reports whether the row is new. The
// unique index on (provider, provider_payment_id) turns a concurrent or
// replayed insert into a duplicate-key error, which is not a failure.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_payment_id, event_kind, reservation_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.ProviderPaymentID,
		event.EventKind,
		event.ReservationID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, reservationID *snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET reservation_id = ?, processed_at = ?
		 WHERE id = ?`,
		reservationID,
		processedAt,
		id,
	).Error
}
