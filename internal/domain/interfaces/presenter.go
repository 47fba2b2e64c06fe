package interfaces

import (
	"context"

	analytics "main/internal/domain/entity/analytics"
	marketdata "main/internal/domain/entity/marketdata"
)

// Presenter receives everything the core exposes to the presentation
// layer. Implementations must not block: callbacks are invoked from the
// stream consumer goroutine.
type Presenter interface {
	OnRawMessage(raw string)
	OnAggregatedRowsChanged(rows []marketdata.AggregatedRow)
	OnConnectionStatusChanged(connected bool)
	OnStreamError(message string)
	OnAnalyticsUpdated(report analytics.Report)
}

// EventTap mirrors normalized events to an external broker. Publish errors
// are reported to the caller but never interrupt the stream.
type EventTap interface {
	PublishEvent(ctx context.Context, event marketdata.Event) error
	Close()
}
