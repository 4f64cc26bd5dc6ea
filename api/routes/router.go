package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/escrowhub-backend/api/controllers"
	contractcontrollers "github.com/angelmondragon/escrowhub-backend/api/controllers/contracts"
	disputecontrollers "github.com/angelmondragon/escrowhub-backend/api/controllers/disputes"
	payeecontrollers "github.com/angelmondragon/escrowhub-backend/api/controllers/payees"
	webhookcontrollers "github.com/angelmondragon/escrowhub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	"github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/disputes"
	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	"github.com/angelmondragon/escrowhub-backend/internal/payees"
	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/escrowhub-backend/pkg/redis"
)

type signingClient interface {
	SigningSecret() string
}

// Params carries everything the HTTP surface is wired to.
type Params struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis controllers.Pinger
	// Idempotency backs the Idempotency-Key replay cache; nil disables it.
	Idempotency pkgredis.ResponseStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics

	Contracts contracts.Service
	Escrow    escrow.Service
	Disputes  disputes.Service
	Payees    payees.Service

	StripeClient   signingClient
	StripeWebhooks webhookcontrollers.StripeWebhookService
	WebhookGuard   webhookcontrollers.DeliveryGuard
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{"db": p.DB, "redis": p.Redis}, logg))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhooks, p.StripeClient, p.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		client := middleware.RequireRole(logg, enums.ActorRoleClient)
		vendor := middleware.RequireRole(logg, enums.ActorRoleVendor)
		parties := middleware.RequireRole(logg, enums.ActorRoleClient, enums.ActorRoleVendor)
		anyone := middleware.RequireRole(logg, enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin)

		r.Route("/contracts", func(r chi.Router) {
			r.With(client).Post("/", contractcontrollers.Create(p.Contracts, logg))
			r.With(anyone).Get("/", contractcontrollers.List(p.Contracts, logg))

			r.Route("/{contractId}", func(r chi.Router) {
				r.With(anyone).Get("/", contractcontrollers.Detail(p.Contracts, logg))
				r.With(client).Post("/send", contractcontrollers.Send(p.Contracts, logg))
				r.With(vendor).Post("/accept", contractcontrollers.Accept(p.Contracts, logg))
				r.With(vendor).Post("/reject", contractcontrollers.Reject(p.Contracts, logg))
				r.With(parties).Post("/cancel", contractcontrollers.Cancel(p.Contracts, logg))
				r.With(client).Post("/fund", contractcontrollers.Fund(p.Escrow, logg))
				r.With(anyone).Get("/payment", contractcontrollers.Payment(p.Escrow, logg))
				r.With(anyone).Get("/transactions", contractcontrollers.Transactions(p.Escrow, logg))
				r.With(parties).Post("/disputes", disputecontrollers.Open(p.Disputes, logg))

				r.Route("/milestones/{milestoneId}", func(r chi.Router) {
					r.With(parties).Post("/start", contractcontrollers.StartMilestone(p.Escrow, logg))
					r.With(vendor).Post("/submit", contractcontrollers.SubmitMilestone(p.Escrow, logg))
					r.With(client).Post("/request-changes", contractcontrollers.RequestChanges(p.Escrow, logg))
					r.With(client).Post("/approve", contractcontrollers.ApproveMilestone(p.Escrow, logg))
					r.With(client).Post("/release", contractcontrollers.ReleaseMilestone(p.Escrow, logg))
					r.With(anyone).Get("/history", contractcontrollers.MilestoneHistory(p.Escrow, logg))
				})
			})
		})

		r.Route("/vendor/payout-account", func(r chi.Router) {
			r.Use(vendor)
			r.Get("/", payeecontrollers.GetPayoutAccount(p.Payees, logg))
			r.Post("/", payeecontrollers.LinkPayoutAccount(p.Payees, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

			r.Get("/disputes", disputecontrollers.List(p.Disputes, logg))
			r.Post("/disputes/{disputeId}/process", disputecontrollers.Process(p.Disputes, logg))
			r.Post("/disputes/{disputeId}/resolve", disputecontrollers.Resolve(p.Disputes, logg))

			r.Route("/contracts/{contractId}", func(r chi.Router) {
				r.Post("/refund", contractcontrollers.AdminRefund(p.Escrow, logg))
				r.Post("/milestones/{milestoneId}/release", contractcontrollers.AdminRelease(p.Escrow, logg))
				r.Post("/milestones/{milestoneId}/resume", contractcontrollers.AdminResume(p.Escrow, logg))
			})
		})
	})

	return r
}
