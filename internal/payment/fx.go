package payment

import (
	"github.com/mesaops/mesa/internal/payment/adapters"
	"github.com/mesaops/mesa/internal/payment/adapters/square"
	"github.com/mesaops/mesa/internal/payment/adapters/stripe"
	paymentdomain "github.com/mesaops/mesa/internal/payment/domain"
	"github.com/mesaops/mesa/internal/payment/repository"
	paymentservice "github.com/mesaops/mesa/internal/payment/service"
	"github.com/mesaops/mesa/internal/payment/webhook"
	reservationrepo "github.com/mesaops/mesa/internal/reservation/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(reservationrepo.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			square.NewFactory(),
		)
	}),
	fx.Provide(func(p paymentservice.Params) paymentdomain.Reconciler {
		return paymentservice.NewService(p)
	}),
	fx.Provide(webhook.NewService),
)
