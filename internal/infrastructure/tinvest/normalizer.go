package tinvest

import (
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	marketdata "main/internal/domain/entity/marketdata"
)

const nanoFactor = 9

// Normalizer converts raw provider stream messages into normalized events.
// One message may carry several sub-events; a sub-event that fails to parse
// is dropped at debug level without aborting the rest of the message.
type Normalizer struct {
	location *time.Location
	logger   *logrus.Entry
	now      func() time.Time
}

func NewNormalizer(location *time.Location, logger *logrus.Logger) *Normalizer {
	if location == nil {
		location = time.UTC
	}
	return &Normalizer{
		location: location,
		logger:   logger.WithField("component", "normalizer"),
		now:      time.Now,
	}
}

// Normalize returns zero or more events carried by one provider response.
func (n *Normalizer) Normalize(resp *pb.MarketDataResponse) []marketdata.Event {
	if resp == nil {
		return nil
	}
	events := make([]marketdata.Event, 0, 3)

	if book := resp.GetOrderbook(); book != nil {
		events = append(events, n.normalizeOrderBook(book))
	}
	if trade := resp.GetTrade(); trade != nil {
		if ev := n.normalizeTrade(trade); ev != nil {
			events = append(events, ev)
		}
	}
	if last := resp.GetLastPrice(); last != nil {
		if ev := n.normalizeLastPrice(last); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

func (n *Normalizer) normalizeOrderBook(book *pb.OrderBook) *marketdata.OrderBookSnapshot {
	snapshot := &marketdata.OrderBookSnapshot{
		InstrumentID: instrumentID(book.GetInstrumentUid(), book.GetFigi()),
		Depth:        book.GetDepth(),
		IsConsistent: book.GetIsConsistent(),
		Asks:         n.normalizeLevels(book.GetAsks()),
		Bids:         n.normalizeLevels(book.GetBids()),
	}
	if ts := book.GetTime(); ts != nil {
		snapshot.ObservedAt = ts.AsTime().In(n.location)
	}
	return snapshot
}

func (n *Normalizer) normalizeLevels(orders []*pb.Order) []marketdata.PriceLevel {
	levels := make([]marketdata.PriceLevel, 0, len(orders))
	for _, order := range orders {
		if order == nil || order.GetPrice() == nil {
			n.logger.Debug("skip order book level without price")
			continue
		}
		levels = append(levels, marketdata.PriceLevel{
			Price:    QuotationToDecimal(order.GetPrice()),
			Quantity: order.GetQuantity(),
		})
	}
	return levels
}

func (n *Normalizer) normalizeTrade(trade *pb.Trade) *marketdata.Trade {
	if trade.GetPrice() == nil {
		n.logger.Debug("skip trade without price")
		return nil
	}
	var side marketdata.TradeSide
	switch trade.GetDirection() {
	case pb.TradeDirection_TRADE_DIRECTION_BUY:
		side = marketdata.TradeSideBuy
	case pb.TradeDirection_TRADE_DIRECTION_SELL:
		side = marketdata.TradeSideSell
	default:
		n.logger.WithField("direction", trade.GetDirection().String()).Debug("skip trade with unknown direction")
		return nil
	}
	normalized := &marketdata.Trade{
		InstrumentID: instrumentID(trade.GetInstrumentUid(), trade.GetFigi()),
		Price:        QuotationToDecimal(trade.GetPrice()),
		Quantity:     trade.GetQuantity(),
		Direction:    side,
		ReceivedAt:   n.now(),
	}
	if ts := trade.GetTime(); ts != nil {
		normalized.OccurredAt = ts.AsTime().In(n.location)
	}
	return normalized
}

func (n *Normalizer) normalizeLastPrice(last *pb.LastPrice) *marketdata.LastPrice {
	if last.GetPrice() == nil {
		n.logger.Debug("skip last price without price")
		return nil
	}
	normalized := &marketdata.LastPrice{
		InstrumentID: instrumentID(last.GetInstrumentUid(), last.GetFigi()),
		Price:        QuotationToDecimal(last.GetPrice()),
	}
	if ts := last.GetTime(); ts != nil {
		normalized.ObservedAt = ts.AsTime().In(n.location)
	}
	return normalized
}

// QuotationToDecimal converts the provider's fixed-point pair into a
// decimal. Units and nano share the sign in well-formed input; summing the
// two components keeps the sign correct even when units is zero and only
// nano is negative.
func QuotationToDecimal(q *pb.Quotation) decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	units := decimal.NewFromInt(q.GetUnits())
	nano := decimal.New(int64(q.GetNano()), -nanoFactor)
	return units.Add(nano)
}

func instrumentID(uid, figi string) string {
	if uid != "" {
		return uid
	}
	return figi
}
