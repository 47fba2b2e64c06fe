package glass

import (
	"context"

	"github.com/sirupsen/logrus"

	orderbook "main/internal/application/service/orderbook"
	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

// Service consumes the normalized event stream, feeds the aggregator and
// pushes every refreshed view to the presenter. An optional event tap
// mirrors the raw events to an external broker; tap failures are logged
// and never interrupt aggregation.
type Service struct {
	aggregator *orderbook.Aggregator
	presenter  interfaces.Presenter
	tap        interfaces.EventTap
	logger     *logrus.Entry
}

func NewService(aggregator *orderbook.Aggregator, presenter interfaces.Presenter, tap interfaces.EventTap, logger *logrus.Logger) *Service {
	return &Service{
		aggregator: aggregator,
		presenter:  presenter,
		tap:        tap,
		logger:     logger.WithField("component", "glass"),
	}
}

// SetPresenter wires the presentation callbacks. Call before Run.
func (s *Service) SetPresenter(presenter interfaces.Presenter) {
	s.presenter = presenter
}

// Run drains the event channel until the context is done. The channel is
// expected to stay open across session restarts.
func (s *Service) Run(ctx context.Context, events <-chan marketdata.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			s.HandleEvent(ctx, event)
		}
	}
}

// HandleEvent applies one event to the aggregation state and notifies the
// presenter with the re-rendered view.
func (s *Service) HandleEvent(ctx context.Context, event marketdata.Event) {
	switch e := event.(type) {
	case *marketdata.OrderBookSnapshot:
		s.aggregator.ApplySnapshot(e)
	case *marketdata.Trade:
		s.aggregator.ApplyTrade(e)
	case *marketdata.LastPrice:
		s.aggregator.ApplyLastPrice(e)
	default:
		return
	}

	if s.presenter != nil {
		s.presenter.OnAggregatedRowsChanged(s.aggregator.RenderRows())
	}
	if s.tap != nil {
		if err := s.tap.PublishEvent(ctx, event); err != nil {
			s.logger.WithError(err).Warn("event tap publish failed")
		}
	}
}

// Rows returns the current aggregated view.
func (s *Service) Rows() []marketdata.AggregatedRow {
	return s.aggregator.RenderRows()
}

// Reset wipes the aggregation state, typically right before a new session
// starts, and pushes the empty view out.
func (s *Service) Reset() {
	s.aggregator.Clear()
	if s.presenter != nil {
		s.presenter.OnAggregatedRowsChanged(s.aggregator.RenderRows())
	}
}
