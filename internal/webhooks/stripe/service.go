package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
)

type dispatcher interface {
	Dispatch(ctx context.Context, evt escrow.ProcessorEvent) error
}

type ServiceParams struct {
	Escrow  dispatcher
	Logger  *logger.Logger
	Metrics *metrics.EscrowMetrics
}

// Service feeds verified Stripe events to the escrow orchestrator.
type Service struct {
	escrow  dispatcher
	logg    *logger.Logger
	metrics *metrics.EscrowMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Escrow == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow service required")
	}
	return &Service{
		escrow:  params.Escrow,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// HandleEvent dispatches every processor event the Stripe event maps to, in
// order. The first failure stops the chain so a redelivery can replay it.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	kind := string(event.Type)
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": kind,
		})
	}

	translated, err := Translate(event)
	if err != nil {
		s.metrics.ObserveWebhook(kind, "invalid")
		return err
	}
	if len(translated) == 0 {
		s.metrics.ObserveWebhook(kind, "ignored")
		if s.logg != nil {
			s.logg.Debug(ctx, "stripe event ignored")
		}
		return nil
	}

	for _, evt := range translated {
		if err := s.escrow.Dispatch(ctx, evt); err != nil {
			s.metrics.ObserveWebhook(kind, "error")
			if s.logg != nil {
				s.logg.Error(s.logg.WithField(ctx, "escrow_event", string(evt.Kind)), "stripe event handling failed", err)
			}
			return err
		}
	}
	s.metrics.ObserveWebhook(kind, "processed")
	if s.logg != nil {
		s.logg.Info(ctx, "stripe event processed")
	}
	return nil
}
