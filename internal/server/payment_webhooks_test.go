package server_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditrepo "github.com/mesaops/mesa/internal/audit/repository"
	auditservice "github.com/mesaops/mesa/internal/audit/service"
	"github.com/mesaops/mesa/internal/config"
	"github.com/mesaops/mesa/internal/payment/adapters"
	"github.com/mesaops/mesa/internal/payment/adapters/square"
	"github.com/mesaops/mesa/internal/payment/adapters/stripe"
	paymentrepo "github.com/mesaops/mesa/internal/payment/repository"
	paymentservice "github.com/mesaops/mesa/internal/payment/service"
	"github.com/mesaops/mesa/internal/payment/webhook"
	"github.com/mesaops/mesa/internal/providers/email"
	reservationdomain "github.com/mesaops/mesa/internal/reservation/domain"
	reservationrepo "github.com/mesaops/mesa/internal/reservation/repository"
	"github.com/mesaops/mesa/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testStripeSecret = "whsec_test_secret"

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupWebhookTestDB(t)
	log := zap.NewNop()

	node, err := snowflake.NewNode(20)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	reconciler := paymentservice.NewService(paymentservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Repo:         paymentrepo.Provide(),
		Reservations: reservationrepo.Provide(),
		AuditSvc:     auditSvc,
		Email:        &email.NoOpProvider{},
		Cfg:          cfg,
	})
	paymentSvc := webhook.NewService(webhook.Params{
		Log:        log,
		Reconciler: reconciler,
		Adapters: adapters.NewRegistry(
			stripe.NewFactory(),
			square.NewFactory(),
		),
		Cfg: cfg,
	})

	engine := server.NewEngine(log)
	srv := server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        log,
		PaymentSvc: paymentSvc,
	})
	srv.RegisterWebhookRoutes()

	return engine, db
}

func testConfig() config.Config {
	cfg := config.Config{StoreTimeout: 5}
	cfg.Providers.Stripe.WebhookSecret = testStripeSecret
	return cfg
}

func stripeSignature(secret string, payload []byte) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(engine *gin.Engine, provider string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func stripePaymentPayload(eventID string, intentID string, ref string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"created": 1756400000,
		"data": {"object": {
			"id": %q,
			"amount": %d,
			"amount_received": %d,
			"currency": "usd",
			"metadata": {"reservation_id": %q}
		}}
	}`, eventID, intentID, amount, amount, ref))
}

func stripeRefundPayload(eventID string, chargeID string, ref string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "charge.refunded",
		"created": 1756400000,
		"data": {"object": {
			"id": %q,
			"amount": %d,
			"amount_refunded": %d,
			"currency": "usd",
			"metadata": {"reservation_id": %q}
		}}
	}`, eventID, chargeID, amount, amount, ref))
}

func TestWebhookAppliesStripePayment(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	payload := stripePaymentPayload("evt_1", "pi_1", "res_1", 4200)
	rec := postWebhook(engine, "stripe", payload, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusPaid, "pi_1")
}

func TestWebhookReplayIsAcknowledgedOnce(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	payload := stripePaymentPayload("evt_1", "pi_1", "res_1", 4200)
	headers := map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	}

	first := postWebhook(engine, "stripe", payload, headers)
	require.Equal(t, http.StatusOK, first.Code)

	// An exact redelivery must be acknowledged but change nothing.
	second := postWebhook(engine, "stripe", payload, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"received": true}`, second.Body.String())

	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusPaid, "pi_1")

	var events int64
	require.NoError(t, db.Raw("SELECT COUNT(1) FROM payment_events").Scan(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	payload := stripePaymentPayload("evt_1", "pi_1", "res_1", 4200)
	signature := stripeSignature(testStripeSecret, payload)

	// Flip one byte of the body after signing.
	tampered := bytes.Replace(payload, []byte("4200"), []byte("4201"), 1)
	rec := postWebhook(engine, "stripe", tampered, map[string]string{
		"Stripe-Signature": signature,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "invalid signature"}`, rec.Body.String())
	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusPending, "")
}

func TestWebhookRefundAfterPayment(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	payment := stripePaymentPayload("evt_1", "pi_1", "res_1", 4200)
	rec := postWebhook(engine, "stripe", payment, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payment),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	refund := stripeRefundPayload("evt_2", "ch_1", "res_1", 4200)
	rec = postWebhook(engine, "stripe", refund, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, refund),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusRefunded, "ch_1")
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	payload := []byte(`{"id": "evt_1", "type": "customer.created", "created": 1756400000}`)
	rec := postWebhook(engine, "stripe", payload, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusPending, "")
}

func TestWebhookUnknownProvider(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	rec := postWebhook(engine, "paypal", []byte(`{}`), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "unknown provider"}`, rec.Body.String())
}

func TestWebhookUnconfiguredProvider(t *testing.T) {
	// Square is registered but has no signature key in this config.
	engine, _ := newTestServer(t, testConfig())

	rec := postWebhook(engine, "square", []byte(`{}`), nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error": "provider not configured"}`, rec.Body.String())
}

func TestWebhookUnknownReservationIsAcknowledged(t *testing.T) {
	engine, db := newTestServer(t, testConfig())

	payload := stripePaymentPayload("evt_1", "pi_1", "res_missing", 4200)
	rec := postWebhook(engine, "stripe", payload, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	})

	// Retrying cannot resolve a reference we do not know, so the provider
	// gets a 200 and stops redelivering.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())

	var events int64
	require.NoError(t, db.Raw("SELECT COUNT(1) FROM payment_events").Scan(&events).Error)
	assert.Equal(t, int64(0), events)
}

func TestWebhookStoreFailureReturns500(t *testing.T) {
	engine, db := newTestServer(t, testConfig())
	seedWebhookReservation(t, db, 1, "res_1", reservationdomain.PaymentStatusPending)

	// Break the journal mid-flight; the delivery must fail with a 5xx so
	// the provider retries, and the reservation must be left untouched.
	require.NoError(t, db.Exec("DROP TABLE payment_events").Error)

	payload := stripePaymentPayload("evt_1", "pi_1", "res_1", 4200)
	rec := postWebhook(engine, "stripe", payload, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "internal server error"}`, rec.Body.String())
	assertWebhookReservation(t, db, "res_1", reservationdomain.PaymentStatusPending, "")
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	payload := []byte(`not-json`)
	rec := postWebhook(engine, "stripe", payload, map[string]string{
		"Stripe-Signature": stripeSignature(testStripeSecret, payload),
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "invalid payload"}`, rec.Body.String())
}

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{
		`CREATE TABLE reservations (
			id BIGINT PRIMARY KEY,
			ref TEXT NOT NULL UNIQUE,
			customer_name TEXT,
			customer_email TEXT,
			total_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			payment_status TEXT NOT NULL DEFAULT 'pending',
			last_applied_payment_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_payment_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			reservation_id BIGINT,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_payment_id ON payment_events(provider, provider_payment_id)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedWebhookReservation(t *testing.T, db *gorm.DB, id int64, ref string, status reservationdomain.PaymentStatus) {
	t.Helper()

	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO reservations (id, ref, customer_name, customer_email, total_amount, currency, payment_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ref, "Ada", "ada@example.com", int64(4200), "USD", status, now, now,
	).Error
	require.NoError(t, err)
}

func assertWebhookReservation(t *testing.T, db *gorm.DB, ref string, status reservationdomain.PaymentStatus, lastApplied string) {
	t.Helper()

	var row struct {
		PaymentStatus        string
		LastAppliedPaymentID *string
	}
	err := db.Raw(
		`SELECT payment_status, last_applied_payment_id FROM reservations WHERE ref = ?`,
		ref,
	).Scan(&row).Error
	require.NoError(t, err)
	require.Equal(t, string(status), row.PaymentStatus)

	if lastApplied == "" {
		require.Nil(t, row.LastAppliedPaymentID)
		return
	}
	require.NotNil(t, row.LastAppliedPaymentID)
	require.Equal(t, lastApplied, *row.LastAppliedPaymentID)
}
