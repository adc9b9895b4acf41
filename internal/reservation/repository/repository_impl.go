package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mesaops/mesa/internal/reservation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Reservation, error) {
	return r.find(ctx, db, ref, false)
}

func (r *repo) FindByRefForUpdate(ctx context.Context, tx *gorm.DB, ref string) (*domain.Reservation, error) {
	return r.find(ctx, tx, ref, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, ref string, forUpdate bool) (*domain.Reservation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	query := db.WithContext(ctx)
	// sqlite has no FOR UPDATE; its writer lock serializes transactions.
	if forUpdate && db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item domain.Reservation
	err := query.Where("ref = ?", ref).Limit(1).Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ApplyPaymentTransition(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.PaymentStatus, providerPaymentID string) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET payment_status = ?, last_applied_payment_id = ?, updated_at = ?
		 WHERE id = ?
		   AND (last_applied_payment_id IS NULL OR last_applied_payment_id <> ?)`,
		status,
		providerPaymentID,
		time.Now().UTC(),
		id,
		providerPaymentID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransitionConflict
	}
	return nil
}
