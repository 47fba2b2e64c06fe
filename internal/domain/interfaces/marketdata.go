package interfaces

import (
	"context"

	marketdata "main/internal/domain/entity/marketdata"
)

// MarketDataFeed is the provider-facing port of the streaming core. One
// subscription covers order book, trade prints and last price for exactly
// one instrument.
type MarketDataFeed interface {
	TradingStatus(ctx context.Context, instrumentID string) (marketdata.TradingStatus, error)
	Subscribe(ctx context.Context, instrumentID string, depth int32) (MarketDataSubscription, error)
}

// MarketDataSubscription is one live stream. Events carries normalized
// events in arrival order; Raw is a best-effort debug echo of provider
// messages; Err delivers the terminal transport error, if any. Ping sends
// the outbound keep-alive request. Close releases the underlying stream
// and is idempotent.
type MarketDataSubscription interface {
	Events() <-chan marketdata.Event
	Raw() <-chan string
	Err() <-chan error
	Ping(ctx context.Context) error
	Close()
}
