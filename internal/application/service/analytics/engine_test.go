package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	analytics "main/internal/domain/entity/analytics"
	marketdata "main/internal/domain/entity/marketdata"
)

func newTestEngine(threshold int64) (*Engine, *time.Time) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	engine := NewEngine(threshold, 5*time.Second, time.UTC, logger)
	current := time.Date(2025, time.March, 3, 12, 0, 30, 0, time.UTC)
	engine.now = func() time.Time { return current }
	return engine, &current
}

func trade(side marketdata.TradeSide, quantity int64, at time.Time) marketdata.Trade {
	return marketdata.Trade{
		InstrumentID: "test",
		Price:        decimal.NewFromInt(100),
		Quantity:     quantity,
		Direction:    side,
		OccurredAt:   at,
		ReceivedAt:   at,
	}
}

func TestSetThresholdStringFallsBackToZero(t *testing.T) {
	engine, _ := newTestEngine(1000)

	if got := engine.SetThresholdString("2500"); got != 2500 {
		t.Fatalf("threshold got %d want 2500", got)
	}
	if got := engine.SetThresholdString("not a number"); got != 0 {
		t.Fatalf("unparsable threshold got %d want 0", got)
	}
	if got := engine.SetThresholdString("-5"); got != 0 {
		t.Fatalf("negative threshold got %d want 0", got)
	}
}

func TestLargeTradesFilterWholeHistory(t *testing.T) {
	engine, now := newTestEngine(100)

	engine.OnTrade(trade(marketdata.TradeSideBuy, 50, *now))
	engine.OnTrade(trade(marketdata.TradeSideBuy, 150, *now))
	engine.OnTrade(trade(marketdata.TradeSideSell, 200, *now))

	report := engine.Snapshot()
	if len(report.LargeBuys) != 1 || report.LargeBuys[0].Quantity != 150 {
		t.Fatalf("large buys got %+v", report.LargeBuys)
	}
	if len(report.LargeSells) != 1 || report.LargeSells[0].Quantity != 200 {
		t.Fatalf("large sells got %+v", report.LargeSells)
	}

	// lowering the threshold re-qualifies earlier small trades
	engine.SetThresholdString("0")
	report = engine.Snapshot()
	if len(report.LargeBuys) != 2 {
		t.Fatalf("large buys after lowering threshold got %d want 2", len(report.LargeBuys))
	}
}

func TestLargeTradesKeepLastFiftyPerSide(t *testing.T) {
	engine, now := newTestEngine(0)

	for i := 0; i < 60; i++ {
		tr := trade(marketdata.TradeSideBuy, int64(i+1), *now)
		engine.OnTrade(tr)
	}

	report := engine.Snapshot()
	if len(report.LargeBuys) != 50 {
		t.Fatalf("large buys got %d want 50", len(report.LargeBuys))
	}
	if report.LargeBuys[0].Quantity != 11 {
		t.Fatalf("oldest kept trade quantity got %d want 11", report.LargeBuys[0].Quantity)
	}
	if report.LargeBuys[49].Quantity != 60 {
		t.Fatalf("newest kept trade quantity got %d want 60", report.LargeBuys[49].Quantity)
	}
}

func TestVelocityNormalizesAgainstObservedExtremes(t *testing.T) {
	engine, now := newTestEngine(0)

	// calibrate the low end with an empty window
	engine.tick()
	if got := engine.Snapshot().VelocityPercent; got != 0 {
		t.Fatalf("velocity on flat range got %d want 0", got)
	}

	for i := 0; i < 10; i++ {
		engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))
	}
	engine.tick()
	if got := engine.Snapshot().VelocityPercent; got != 100 {
		t.Fatalf("velocity at observed maximum got %d want 100", got)
	}

	// window empties after the stamps age out, rate returns to the minimum
	*now = now.Add(6 * time.Second)
	engine.tick()
	if got := engine.Snapshot().VelocityPercent; got != 0 {
		t.Fatalf("velocity after window drained got %d want 0", got)
	}
}

func TestTradeRecomputesWindowBeforeReporting(t *testing.T) {
	engine, now := newTestEngine(0)

	// calibrate the extremes: empty window, then a burst of ten
	engine.tick()
	for i := 0; i < 10; i++ {
		engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))
	}
	engine.tick()

	// a lone trade an hour later must not count the stale burst
	*now = now.Add(time.Hour)
	engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))

	if got := engine.Snapshot().VelocityPercent; got != 10 {
		t.Fatalf("velocity after stale window got %d want 10", got)
	}
}

func TestBucketCountsRollOver(t *testing.T) {
	engine, now := newTestEngine(0)

	engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))
	engine.OnTrade(trade(marketdata.TradeSideSell, 1, *now))

	report := engine.Snapshot()
	if report.MinuteCount != 2 || report.FiveMinuteCount != 2 {
		t.Fatalf("counts got minute=%d five=%d want 2/2", report.MinuteCount, report.FiveMinuteCount)
	}

	// next minute: per-minute counter resets, five-minute keeps going
	*now = now.Add(time.Minute)
	engine.tick()
	engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))

	report = engine.Snapshot()
	if report.MinuteCount != 1 {
		t.Fatalf("minute count after rollover got %d want 1", report.MinuteCount)
	}
	if report.FiveMinuteCount != 3 {
		t.Fatalf("five minute count got %d want 3", report.FiveMinuteCount)
	}

	// crossing the five-minute boundary resets the wide counter too
	*now = now.Add(5 * time.Minute)
	engine.tick()
	report = engine.Snapshot()
	if report.MinuteCount != 0 || report.FiveMinuteCount != 0 {
		t.Fatalf("counts after five-minute rollover got minute=%d five=%d want 0/0", report.MinuteCount, report.FiveMinuteCount)
	}
}

func TestClearHistoryResetsCalibration(t *testing.T) {
	engine, now := newTestEngine(0)

	for i := 0; i < 5; i++ {
		engine.OnTrade(trade(marketdata.TradeSideBuy, 10, *now))
	}
	engine.tick()

	engine.ClearHistory()

	report := engine.Snapshot()
	if len(report.LargeBuys) != 0 || len(report.LargeSells) != 0 {
		t.Fatalf("history survived clear: %+v", report)
	}
	if report.VelocityPercent != 0 || report.MinuteCount != 0 || report.FiveMinuteCount != 0 {
		t.Fatalf("counters survived clear: %+v", report)
	}

	// extremes recalibrate from scratch after the clear
	engine.tick()
	engine.OnTrade(trade(marketdata.TradeSideBuy, 1, *now))
	engine.tick()
	if got := engine.Snapshot().VelocityPercent; got != 100 {
		t.Fatalf("velocity after recalibration got %d want 100", got)
	}
}

func TestListenerReceivesReports(t *testing.T) {
	engine, now := newTestEngine(0)

	var received []analytics.Report
	engine.SetListener(func(report analytics.Report) {
		received = append(received, report)
	})

	engine.OnTrade(trade(marketdata.TradeSideBuy, 7, *now))
	engine.tick()
	engine.ClearHistory()

	if len(received) != 3 {
		t.Fatalf("listener calls got %d want 3", len(received))
	}
	if len(received[0].LargeBuys) != 1 {
		t.Fatalf("first report misses the recorded trade")
	}
	if len(received[2].LargeBuys) != 0 {
		t.Fatalf("clear report still carries history")
	}
}
