package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mesaops/mesa/internal/config"
	obsmetrics "github.com/mesaops/mesa/internal/observability/metrics"
	"github.com/mesaops/mesa/internal/payment/adapters"
	paymentdomain "github.com/mesaops/mesa/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Reconciler paymentdomain.Reconciler
	Adapters   *adapters.Registry
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the webhook dispatcher core: it authenticates the delivery,
// normalizes it, and hands the event to the reconciler.
type Service struct {
	log        *zap.Logger
	reconciler paymentdomain.Reconciler
	adapters   *adapters.Registry
	cfg        config.Config
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		reconciler: p.Reconciler,
		adapters:   p.Adapters,
		cfg:        p.Cfg,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.Outcome{}, paymentdomain.ErrProviderNotFound
	}

	adapterCfg, err := s.providerConfig(provider)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   adapterCfg,
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	// Verification runs over the exact bytes received, before any parsing.
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature verification failed", zap.String("provider", provider))
		s.record(provider, "rejected")
		return paymentdomain.Outcome{}, err
	}

	if !json.Valid(payload) {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidPayload
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	outcome, err := s.reconciler.Reconcile(ctx, event)
	if err != nil {
		s.record(provider, "error")
		return paymentdomain.Outcome{}, err
	}

	s.record(provider, string(outcome.Status))
	s.log.Info("webhook reconciled",
		zap.String("provider", provider),
		zap.String("kind", event.Kind),
		zap.String("outcome", string(outcome.Status)),
		zap.String("reason", outcome.Reason),
	)
	return outcome, nil
}

// providerConfig resolves startup credentials for a provider. A missing
// secret means the endpoint refuses all events for that provider rather than
// silently accepting them.
func (s *Service) providerConfig(provider string) (map[string]any, error) {
	switch provider {
	case paymentdomain.ProviderStripe:
		secret := s.cfg.Providers.Stripe.WebhookSecret
		if secret == "" {
			return nil, paymentdomain.ErrProviderNotConfigured
		}
		return map[string]any{"webhook_secret": secret}, nil
	case paymentdomain.ProviderSquare:
		key := s.cfg.Providers.Square.SignatureKey
		if key == "" {
			return nil, paymentdomain.ErrProviderNotConfigured
		}
		return map[string]any{
			"signature_key":    key,
			"notification_url": s.cfg.Providers.Square.NotificationURL,
		}, nil
	default:
		return nil, paymentdomain.ErrProviderNotFound
	}
}

func (s *Service) record(provider string, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(provider, outcome)
	}
}
