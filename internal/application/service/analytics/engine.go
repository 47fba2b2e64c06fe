package analytics

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	analytics "main/internal/domain/entity/analytics"
	marketdata "main/internal/domain/entity/marketdata"
)

const (
	largeTradesPerSide = 50
	tickInterval       = time.Second
)

// Engine keeps the per-session trade analytics: the large-trades tape, the
// tape velocity gauge and per-minute / per-five-minute trade counters.
// Velocity is normalized against the extremes observed since the last
// ClearHistory, so the gauge self-calibrates to the instrument's pace.
type Engine struct {
	mu sync.Mutex

	history []marketdata.Trade
	stamps  []time.Time

	threshold int64
	window    time.Duration

	minRate float64
	maxRate float64

	location        *time.Location
	minuteStart     time.Time
	fiveMinuteStart time.Time
	minuteCount     int
	fiveMinuteCount int

	listener func(analytics.Report)
	logger   *logrus.Entry
	now      func() time.Time
}

func NewEngine(threshold int64, window time.Duration, location *time.Location, logger *logrus.Logger) *Engine {
	if window <= 0 {
		window = 5 * time.Second
	}
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		threshold: threshold,
		window:    window,
		minRate:   math.Inf(1),
		maxRate:   0,
		location:  location,
		logger:    logger.WithField("component", "analytics"),
		now:       time.Now,
	}
}

// SetListener registers the report consumer. Must be called before the
// first trade is recorded.
func (e *Engine) SetListener(listener func(analytics.Report)) {
	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()
}

// SetThresholdString updates the large-trade threshold from raw user
// input. Anything that does not parse as a non-negative integer falls
// back to zero, which makes every trade qualify as large.
func (e *Engine) SetThresholdString(raw string) int64 {
	threshold, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || threshold < 0 {
		e.logger.WithField("value", raw).Warn("unparsable trade threshold, using 0")
		threshold = 0
	}
	e.mu.Lock()
	e.threshold = threshold
	report := e.buildReportLocked()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(report)
	}
	return threshold
}

func (e *Engine) Threshold() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// OnTrade records one trade into the history, the velocity window and the
// time buckets, then pushes a fresh report to the listener. Implements the
// aggregator's TradeSink.
func (e *Engine) OnTrade(trade marketdata.Trade) {
	received := trade.ReceivedAt
	if received.IsZero() {
		received = e.now()
	}

	e.mu.Lock()
	e.realignBucketsLocked()
	e.history = append(e.history, trade)
	e.stamps = append(e.stamps, received)

	occurred := trade.OccurredAt
	if occurred.IsZero() {
		occurred = received
	}
	occurred = occurred.In(e.location)
	if !occurred.Before(e.minuteStart) && occurred.Before(e.minuteStart.Add(time.Minute)) {
		e.minuteCount++
	}
	if !occurred.Before(e.fiveMinuteStart) && occurred.Before(e.fiveMinuteStart.Add(5*time.Minute)) {
		e.fiveMinuteCount++
	}

	// windowed statistics recompute on every trade, not just on ticks
	e.pruneStampsLocked()
	e.observeRateLocked()

	report := e.buildReportLocked()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(report)
	}
}

// Run drives the periodic work: pruning the velocity window, recalibrating
// the velocity extremes and rolling the time buckets over. Returns when
// the context is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	e.realignBucketsLocked()
	e.pruneStampsLocked()
	e.observeRateLocked()

	report := e.buildReportLocked()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(report)
	}
}

// ClearHistory drops everything: trades, the velocity window and its
// calibration extremes, and the bucket counters.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.stamps = nil
	e.minRate = math.Inf(1)
	e.maxRate = 0
	e.minuteStart = time.Time{}
	e.fiveMinuteStart = time.Time{}
	e.minuteCount = 0
	e.fiveMinuteCount = 0
	e.realignBucketsLocked()
	report := e.buildReportLocked()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(report)
	}
}

// Snapshot returns the current report without advancing any state.
func (e *Engine) Snapshot() analytics.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildReportLocked()
}

func (e *Engine) realignBucketsLocked() {
	now := e.now().In(e.location)
	minuteStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, e.location)
	if !minuteStart.Equal(e.minuteStart) {
		e.minuteStart = minuteStart
		e.minuteCount = 0
	}
	fiveStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute()-now.Minute()%5, 0, 0, e.location)
	if !fiveStart.Equal(e.fiveMinuteStart) {
		e.fiveMinuteStart = fiveStart
		e.fiveMinuteCount = 0
	}
}

// observeRateLocked folds the current window rate into the running
// min/max extremes the velocity gauge normalizes against.
func (e *Engine) observeRateLocked() {
	rate := float64(len(e.stamps))
	if rate < e.minRate {
		e.minRate = rate
	}
	if rate > e.maxRate {
		e.maxRate = rate
	}
}

func (e *Engine) pruneStampsLocked() {
	cutoff := e.now().Add(-e.window)
	kept := e.stamps[:0]
	for _, stamp := range e.stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	e.stamps = kept
}

func (e *Engine) buildReportLocked() analytics.Report {
	report := analytics.Report{
		LargeBuys:       make([]marketdata.Trade, 0, largeTradesPerSide),
		LargeSells:      make([]marketdata.Trade, 0, largeTradesPerSide),
		VelocityPercent: e.velocityPercentLocked(),
		MinuteCount:     e.minuteCount,
		FiveMinuteCount: e.fiveMinuteCount,
	}
	for _, trade := range e.history {
		if trade.Quantity < e.threshold {
			continue
		}
		switch trade.Direction {
		case marketdata.TradeSideBuy:
			report.LargeBuys = append(report.LargeBuys, trade)
		case marketdata.TradeSideSell:
			report.LargeSells = append(report.LargeSells, trade)
		}
	}
	report.LargeBuys = tail(report.LargeBuys, largeTradesPerSide)
	report.LargeSells = tail(report.LargeSells, largeTradesPerSide)
	return report
}

// velocityPercentLocked maps the current window rate onto the observed
// min..max range. A flat range reads as zero, not full scale.
func (e *Engine) velocityPercentLocked() int {
	rate := float64(len(e.stamps))
	if math.IsInf(e.minRate, 1) || e.maxRate <= e.minRate {
		return 0
	}
	percent := (rate - e.minRate) / (e.maxRate - e.minRate) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return int(percent)
}

func tail(trades []marketdata.Trade, limit int) []marketdata.Trade {
	if len(trades) <= limit {
		return trades
	}
	return trades[len(trades)-limit:]
}
