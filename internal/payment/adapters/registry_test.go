package adapters

import (
	"errors"
	"testing"

	"github.com/mesaops/mesa/internal/payment/adapters/stripe"
	"github.com/mesaops/mesa/internal/payment/domain"
)

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(), nil)

	if !registry.ProviderExists("stripe") {
		t.Fatal("expected stripe to be registered")
	}
	if !registry.ProviderExists("  Stripe ") {
		t.Fatal("expected lookup to normalize case and whitespace")
	}
	if registry.ProviderExists("square") {
		t.Fatal("expected square to be absent")
	}

	cfg := domain.AdapterConfig{Provider: "stripe", Config: map[string]any{"webhook_secret": "whsec_x"}}
	if _, err := registry.NewAdapter("stripe", cfg); err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if _, err := registry.NewAdapter("square", cfg); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
	if _, err := registry.NewAdapter("   ", cfg); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("expected invalid provider for a blank name, got %v", err)
	}
}
