package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/mesaops/mesa/internal/payment/domain"
)

// SignatureHeader carries the base64 HMAC-SHA256 digest of the notification
// URL concatenated with the raw request body.
const SignatureHeader = "x-square-hmacsha256-signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderSquare
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	key, ok := readString(cfg.Config, "signature_key")
	if !ok || strings.TrimSpace(key) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	url, _ := readString(cfg.Config, "notification_url")

	return &Adapter{
		signatureKey:    strings.TrimSpace(key),
		notificationURL: strings.TrimSpace(url),
	}, nil
}

type Adapter struct {
	signatureKey    string
	notificationURL string
}

// Verify recomputes base64(HMAC-SHA256(key, url || body)) over the exact raw
// bytes and compares it to the signature header in constant time.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.signatureKey))
	_, _ = mac.Write([]byte(a.notificationURL))
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event squareEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment.created", "payment.updated":
		return a.parsePayment(event, payload)
	case "refund.created", "refund.updated":
		return a.parseRefund(event, payload)
	default:
		return &paymentdomain.PaymentEvent{
			Provider:          paymentdomain.ProviderSquare,
			Kind:              paymentdomain.EventKindUnknown,
			ProviderPaymentID: event.EventID,
			OccurredAt:        eventTime(event.CreatedAt),
			RawPayload:        payload,
		}, nil
	}
}

type squareEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      squareEventData `json:"data"`
}

type squareEventData struct {
	Object json.RawMessage `json:"object"`
}

type squarePaymentObject struct {
	Payment squarePayment `json:"payment"`
}

type squarePayment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	AmountMoney squareMoney       `json:"amount_money"`
	ReferenceID string            `json:"reference_id"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   string            `json:"created_at"`
}

type squareRefundObject struct {
	Refund squareRefund `json:"refund"`
}

type squareRefund struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	AmountMoney squareMoney       `json:"amount_money"`
	PaymentID   string            `json:"payment_id"`
	ReferenceID string            `json:"reference_id"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   string            `json:"created_at"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (a *Adapter) parsePayment(event squareEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var object squarePaymentObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	payment := object.Payment
	if strings.TrimSpace(payment.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	// A pending or approved payment is not a success yet; it must never be
	// conflated with a completed one.
	var kind string
	switch strings.ToUpper(strings.TrimSpace(payment.Status)) {
	case "COMPLETED":
		kind = paymentdomain.EventKindPaymentSucceeded
	case "FAILED", "CANCELED":
		kind = paymentdomain.EventKindPaymentFailed
	default:
		kind = paymentdomain.EventKindUnknown
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderSquare,
		Kind:              kind,
		ProviderPaymentID: payment.ID,
		ReservationRef:    reservationRef(payment.Metadata, payment.ReferenceID),
		Amount:            payment.AmountMoney.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(payment.AmountMoney.Currency)),
		OccurredAt:        eventTime(firstNonEmpty(payment.CreatedAt, event.CreatedAt)),
		RawPayload:        payload,
	}, nil
}

func (a *Adapter) parseRefund(event squareEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var object squareRefundObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	refund := object.Refund
	if strings.TrimSpace(refund.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	// Only a completed refund moves money; everything else is noise here.
	kind := paymentdomain.EventKindUnknown
	if strings.ToUpper(strings.TrimSpace(refund.Status)) == "COMPLETED" {
		kind = paymentdomain.EventKindRefundSucceeded
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderSquare,
		Kind:              kind,
		ProviderPaymentID: refund.ID,
		ReservationRef:    reservationRef(refund.Metadata, refund.ReferenceID),
		Amount:            refund.AmountMoney.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(refund.AmountMoney.Currency)),
		OccurredAt:        eventTime(firstNonEmpty(refund.CreatedAt, event.CreatedAt)),
		RawPayload:        payload,
	}, nil
}

func reservationRef(metadata map[string]string, referenceID string) *string {
	if ref := strings.TrimSpace(metadata["reservation_id"]); ref != "" {
		return &ref
	}
	if ref := strings.TrimSpace(referenceID); ref != "" {
		return &ref
	}
	return nil
}

func eventTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
