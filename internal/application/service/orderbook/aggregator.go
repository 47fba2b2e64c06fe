package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	marketdata "main/internal/domain/entity/marketdata"
)

// TradeSink receives every trade the aggregator has accounted for, after
// the aggregator state is already updated. Used to chain the analytics
// engine behind the aggregation step.
type TradeSink interface {
	OnTrade(trade marketdata.Trade)
}

type level struct {
	price    decimal.Decimal
	quantity int64
}

type priceVolume struct {
	price decimal.Decimal
	buy   int64
	sell  int64
}

// Aggregator keeps the current order book state for one instrument merged
// with cumulative traded volume per price level. Price levels are keyed by
// the canonical decimal string so 10.5 and 10.50 land on the same row.
type Aggregator struct {
	mu sync.RWMutex

	asks    map[string]level
	bids    map[string]level
	volumes map[string]*priceVolume

	lastPriceKey string
	hasLastPrice bool

	sink TradeSink
}

func NewAggregator(sink TradeSink) *Aggregator {
	return &Aggregator{
		asks:    make(map[string]level),
		bids:    make(map[string]level),
		volumes: make(map[string]*priceVolume),
		sink:    sink,
	}
}

// ApplySnapshot replaces both sides of the book wholesale. Cumulative
// volumes and the last price survive snapshots: they describe trade
// history, not book state.
func (a *Aggregator) ApplySnapshot(snapshot *marketdata.OrderBookSnapshot) {
	if snapshot == nil {
		return
	}
	asks := make(map[string]level, len(snapshot.Asks))
	for _, l := range snapshot.Asks {
		asks[l.Price.String()] = level{price: l.Price, quantity: l.Quantity}
	}
	bids := make(map[string]level, len(snapshot.Bids))
	for _, l := range snapshot.Bids {
		bids[l.Price.String()] = level{price: l.Price, quantity: l.Quantity}
	}

	a.mu.Lock()
	a.asks = asks
	a.bids = bids
	a.mu.Unlock()
}

// ApplyTrade accumulates the traded quantity on the matching side of its
// price level, then forwards the trade to the sink.
func (a *Aggregator) ApplyTrade(trade *marketdata.Trade) {
	if trade == nil {
		return
	}

	a.mu.Lock()
	key := trade.Price.String()
	volume, ok := a.volumes[key]
	if !ok {
		volume = &priceVolume{price: trade.Price}
		a.volumes[key] = volume
	}
	switch trade.Direction {
	case marketdata.TradeSideBuy:
		volume.buy += trade.Quantity
	case marketdata.TradeSideSell:
		volume.sell += trade.Quantity
	}
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.OnTrade(*trade)
	}
}

// ApplyLastPrice moves the last-price marker to the given price level.
func (a *Aggregator) ApplyLastPrice(last *marketdata.LastPrice) {
	if last == nil {
		return
	}
	a.mu.Lock()
	a.lastPriceKey = last.Price.String()
	a.hasLastPrice = true
	a.mu.Unlock()
}

// Clear drops the whole aggregation state, volumes and last price
// included.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.asks = make(map[string]level)
	a.bids = make(map[string]level)
	a.volumes = make(map[string]*priceVolume)
	a.lastPriceKey = ""
	a.hasLastPrice = false
	a.mu.Unlock()
}

// RenderRows builds the merged view: the union of book levels and traded
// price levels sorted by price descending, closed by a totals row. A side
// quantity is nil when the book has no level at that price, so zero and
// absent stay distinguishable.
func (a *Aggregator) RenderRows() []marketdata.AggregatedRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prices := make(map[string]decimal.Decimal, len(a.asks)+len(a.bids)+len(a.volumes))
	for key, l := range a.asks {
		prices[key] = l.price
	}
	for key, l := range a.bids {
		prices[key] = l.price
	}
	for key, v := range a.volumes {
		prices[key] = v.price
	}

	keys := make([]string, 0, len(prices))
	for key := range prices {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return prices[keys[i]].GreaterThan(prices[keys[j]])
	})

	rows := make([]marketdata.AggregatedRow, 0, len(keys)+1)
	var totalBuy, totalSell int64
	for _, key := range keys {
		row := marketdata.AggregatedRow{
			Price:       prices[key],
			IsLastPrice: a.hasLastPrice && key == a.lastPriceKey,
		}
		if l, ok := a.asks[key]; ok {
			quantity := l.quantity
			row.AskQuantity = &quantity
		}
		if l, ok := a.bids[key]; ok {
			quantity := l.quantity
			row.BidQuantity = &quantity
		}
		if v, ok := a.volumes[key]; ok {
			row.BuyVolume = v.buy
			row.SellVolume = v.sell
			totalBuy += v.buy
			totalSell += v.sell
		}
		rows = append(rows, row)
	}

	// the total row sums traded volume only; book quantities stay blank
	rows = append(rows, marketdata.AggregatedRow{
		IsTotal:    true,
		BuyVolume:  totalBuy,
		SellVolume: totalSell,
	})
	return rows
}
