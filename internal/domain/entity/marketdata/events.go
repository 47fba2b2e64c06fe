package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide represents BUY/SELL direction derived from the incoming stream.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Event is the normalized market data event produced by the stream session.
// Exactly one of *OrderBookSnapshot, *Trade or *LastPrice implements it;
// consumers dispatch with a type switch.
type Event interface {
	isEvent()
}

func (*OrderBookSnapshot) isEvent() {}
func (*Trade) isEvent()             {}
func (*LastPrice) isEvent()         {}

// PriceLevel holds a price/quantity pair for bids/asks within a snapshot.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBookSnapshot is a complete order book at a specific time and depth.
// The provider sends full snapshots, never deltas; each one replaces the
// previous book wholesale.
type OrderBookSnapshot struct {
	InstrumentID string       `json:"instrument_id"`
	Depth        int32        `json:"depth"`
	IsConsistent bool         `json:"is_consistent"`
	Asks         []PriceLevel `json:"asks"`
	Bids         []PriceLevel `json:"bids"`
	ObservedAt   time.Time    `json:"observed_at"`
}

// Trade models a single executed trade print. OccurredAt carries the
// exchange timestamp in the broker time zone; ReceivedAt is local receipt
// time and feeds the velocity window.
type Trade struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Direction    TradeSide       `json:"direction"`
	OccurredAt   time.Time       `json:"occurred_at"`
	ReceivedAt   time.Time       `json:"-"`
}

// LastPrice is the most recent traded price tick, used for row highlighting.
type LastPrice struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// TradingStatus is the result of the pre-flight trading status check.
type TradingStatus struct {
	Status        string `json:"status"`
	NormalTrading bool   `json:"normal_trading"`
}
