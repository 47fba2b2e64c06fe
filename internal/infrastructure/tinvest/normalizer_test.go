package tinvest

import (
	"testing"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/timestamppb"

	marketdata "main/internal/domain/entity/marketdata"
)

func newTestNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewNormalizer(time.UTC, logger)
}

func TestQuotationToDecimal(t *testing.T) {
	cases := []struct {
		name  string
		units int64
		nano  int32
		want  string
	}{
		{"integer", 10, 0, "10"},
		{"fractional", 10, 500000000, "10.5"},
		{"negative", -1, -250000000, "-1.25"},
		{"negative below one", 0, -250000000, "-0.25"},
		{"zero", 0, 0, "0"},
		{"small fraction", 0, 10000, "0.00001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := QuotationToDecimal(&pb.Quotation{Units: tc.units, Nano: tc.nano})
			if got.String() != tc.want {
				t.Fatalf("quotation {%d,%d} got %s want %s", tc.units, tc.nano, got, tc.want)
			}
		})
	}
	if !QuotationToDecimal(nil).IsZero() {
		t.Fatalf("nil quotation must convert to zero")
	}
}

func TestNormalizeOrderBookSkipsLevelsWithoutPrice(t *testing.T) {
	n := newTestNormalizer()
	resp := &pb.MarketDataResponse{
		Payload: &pb.MarketDataResponse_Orderbook{
			Orderbook: &pb.OrderBook{
				InstrumentUid: "uid-1",
				Figi:          "FIGI1",
				Depth:         50,
				IsConsistent:  true,
				Time:          timestamppb.New(time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)),
				Asks: []*pb.Order{
					{Price: &pb.Quotation{Units: 101}, Quantity: 3},
					{Price: nil, Quantity: 99},
				},
				Bids: []*pb.Order{
					{Price: &pb.Quotation{Units: 100, Nano: 500000000}, Quantity: 7},
				},
			},
		},
	}

	events := n.Normalize(resp)
	if len(events) != 1 {
		t.Fatalf("events got %d want 1", len(events))
	}
	snapshot, ok := events[0].(*marketdata.OrderBookSnapshot)
	if !ok {
		t.Fatalf("event type got %T want *OrderBookSnapshot", events[0])
	}
	if snapshot.InstrumentID != "uid-1" {
		t.Fatalf("instrument id got %s want uid-1", snapshot.InstrumentID)
	}
	if len(snapshot.Asks) != 1 {
		t.Fatalf("asks got %d want 1, the price-less level must be dropped", len(snapshot.Asks))
	}
	if snapshot.Bids[0].Price.String() != "100.5" {
		t.Fatalf("bid price got %s want 100.5", snapshot.Bids[0].Price)
	}
}

func TestNormalizeTradeDirections(t *testing.T) {
	n := newTestNormalizer()

	buy := &pb.MarketDataResponse{
		Payload: &pb.MarketDataResponse_Trade{
			Trade: &pb.Trade{
				InstrumentUid: "uid-1",
				Direction:     pb.TradeDirection_TRADE_DIRECTION_BUY,
				Price:         &pb.Quotation{Units: 55},
				Quantity:      4,
				Time:          timestamppb.New(time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)),
			},
		},
	}
	events := n.Normalize(buy)
	if len(events) != 1 {
		t.Fatalf("events got %d want 1", len(events))
	}
	trade := events[0].(*marketdata.Trade)
	if trade.Direction != marketdata.TradeSideBuy {
		t.Fatalf("direction got %s want BUY", trade.Direction)
	}
	if trade.ReceivedAt.IsZero() {
		t.Fatalf("receipt time not stamped")
	}

	unspecified := &pb.MarketDataResponse{
		Payload: &pb.MarketDataResponse_Trade{
			Trade: &pb.Trade{
				InstrumentUid: "uid-1",
				Direction:     pb.TradeDirection_TRADE_DIRECTION_UNSPECIFIED,
				Price:         &pb.Quotation{Units: 55},
				Quantity:      4,
			},
		},
	}
	if events := n.Normalize(unspecified); len(events) != 0 {
		t.Fatalf("trade with unknown direction must be dropped, got %d events", len(events))
	}
}

func TestNormalizeLastPriceFallsBackToFigi(t *testing.T) {
	n := newTestNormalizer()
	resp := &pb.MarketDataResponse{
		Payload: &pb.MarketDataResponse_LastPrice{
			LastPrice: &pb.LastPrice{
				Figi:  "FIGI1",
				Price: &pb.Quotation{Units: 42, Nano: 100000000},
			},
		},
	}

	events := n.Normalize(resp)
	if len(events) != 1 {
		t.Fatalf("events got %d want 1", len(events))
	}
	last := events[0].(*marketdata.LastPrice)
	if last.InstrumentID != "FIGI1" {
		t.Fatalf("instrument id got %s want FIGI1 fallback", last.InstrumentID)
	}
	if last.Price.String() != "42.1" {
		t.Fatalf("price got %s want 42.1", last.Price)
	}
}

func TestNormalizeIgnoresServiceMessages(t *testing.T) {
	n := newTestNormalizer()
	ping := &pb.MarketDataResponse{
		Payload: &pb.MarketDataResponse_Ping{Ping: &pb.Ping{}},
	}
	if events := n.Normalize(ping); len(events) != 0 {
		t.Fatalf("ping produced %d events, want 0", len(events))
	}
	if events := n.Normalize(nil); events != nil {
		t.Fatalf("nil response produced events")
	}
}
