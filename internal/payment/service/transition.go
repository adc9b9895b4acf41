package service

import (
	paymentdomain "github.com/mesaops/mesa/internal/payment/domain"
	reservationdomain "github.com/mesaops/mesa/internal/reservation/domain"
)

// targetStatus returns the payment status an event kind moves a reservation
// to, or false when the transition is not permitted. Permitted transitions:
// pending→paid, pending→failed, paid→refunded. There is no transition out of
// refunded.
func targetStatus(kind string, current reservationdomain.PaymentStatus) (reservationdomain.PaymentStatus, bool) {
	switch kind {
	case paymentdomain.EventKindPaymentSucceeded:
		if current == reservationdomain.PaymentStatusPending {
			return reservationdomain.PaymentStatusPaid, true
		}
	case paymentdomain.EventKindPaymentFailed:
		if current == reservationdomain.PaymentStatusPending {
			return reservationdomain.PaymentStatusFailed, true
		}
	case paymentdomain.EventKindRefundSucceeded:
		if current == reservationdomain.PaymentStatusPaid {
			return reservationdomain.PaymentStatusRefunded, true
		}
	}
	return current, false
}
