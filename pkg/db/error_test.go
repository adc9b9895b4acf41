package db

import (
	"errors"
	"testing"

	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm sentinel", gorm.ErrDuplicatedKey, true},
		{"postgres 23505", errors.New(`ERROR: duplicate key value violates unique constraint "ux_payment_events_provider_payment_id" (SQLSTATE 23505)`), true},
		{"sqlite 2067", errors.New("UNIQUE constraint failed: payment_events.provider, payment_events.provider_payment_id"), true},
		{"unrelated", errors.New("no such table: payment_events"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
