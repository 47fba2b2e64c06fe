package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	analytics "main/internal/domain/entity/analytics"
	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

type fakeSubscription struct {
	events chan marketdata.Event
	raw    chan string
	errs   chan error
	pings  atomic.Int64
	closed atomic.Bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan marketdata.Event, 16),
		raw:    make(chan string, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeSubscription) Events() <-chan marketdata.Event { return f.events }
func (f *fakeSubscription) Raw() <-chan string              { return f.raw }
func (f *fakeSubscription) Err() <-chan error               { return f.errs }
func (f *fakeSubscription) Ping(ctx context.Context) error {
	f.pings.Add(1)
	return nil
}
func (f *fakeSubscription) Close() { f.closed.Store(true) }

type fakeFeed struct {
	status marketdata.TradingStatus
	subs   []*fakeSubscription
}

func (f *fakeFeed) TradingStatus(ctx context.Context, instrumentID string) (marketdata.TradingStatus, error) {
	return f.status, nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, instrumentID string, depth int32) (interfaces.MarketDataSubscription, error) {
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	return sub, nil
}

type fakePresenter struct {
	mu        sync.Mutex
	connected []bool
	raw       []string
	errors    []string
}

func (p *fakePresenter) OnRawMessage(raw string) {
	p.mu.Lock()
	p.raw = append(p.raw, raw)
	p.mu.Unlock()
}
func (p *fakePresenter) OnAggregatedRowsChanged(rows []marketdata.AggregatedRow) {}
func (p *fakePresenter) OnConnectionStatusChanged(connected bool) {
	p.mu.Lock()
	p.connected = append(p.connected, connected)
	p.mu.Unlock()
}
func (p *fakePresenter) OnStreamError(message string) {
	p.mu.Lock()
	p.errors = append(p.errors, message)
	p.mu.Unlock()
}
func (p *fakePresenter) OnAnalyticsUpdated(report analytics.Report) {}

func (p *fakePresenter) streamErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.errors...)
}

func (p *fakePresenter) connections() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.connected...)
}

func newTestService(feed interfaces.MarketDataFeed, presenter *fakePresenter) *Service {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewService(feed, presenter, 50, 5*time.Millisecond, 16, logger)
}

func normalStatus() marketdata.TradingStatus {
	return marketdata.TradingStatus{Status: "SECURITY_TRADING_STATUS_NORMAL_TRADING", NormalTrading: true}
}

func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestStartRejectsInstrumentOutsideNormalTrading(t *testing.T) {
	feed := &fakeFeed{status: marketdata.TradingStatus{Status: "SECURITY_TRADING_STATUS_CLOSED", NormalTrading: false}}
	svc := newTestService(feed, &fakePresenter{})

	err := svc.Start(context.Background(), "instrument-1")
	if !errors.Is(err, ErrNotTradable) {
		t.Fatalf("error got %v want ErrNotTradable", err)
	}
	if svc.State() != StateIdle {
		t.Fatalf("state got %s want IDLE", svc.State())
	}
	if len(feed.subs) != 0 {
		t.Fatalf("subscription opened despite failed pre-flight")
	}
}

func TestStartPumpsEventsAndRaw(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	presenter := &fakePresenter{}
	svc := newTestService(feed, presenter)
	defer svc.Stop()

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if svc.State() != StateStreaming {
		t.Fatalf("state got %s want STREAMING", svc.State())
	}

	sub := feed.subs[0]
	want := &marketdata.LastPrice{InstrumentID: "instrument-1", Price: decimal.NewFromInt(42)}
	sub.events <- want
	sub.raw <- "raw message"

	select {
	case got := <-svc.Events():
		if got != marketdata.Event(want) {
			t.Fatalf("event got %+v want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("event never reached the session channel")
	}
	waitFor(t, func() bool {
		presenter.mu.Lock()
		defer presenter.mu.Unlock()
		return len(presenter.raw) == 1
	}, "raw message never reached the presenter")
}

func TestKeepAlivePingsContinuously(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	svc := newTestService(feed, &fakePresenter{})
	defer svc.Stop()

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub := feed.subs[0]
	waitFor(t, func() bool { return sub.pings.Load() >= 3 }, "keep-alive pings not observed")
}

func TestStopIsDeliberateAndIdempotent(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	presenter := &fakePresenter{}
	svc := newTestService(feed, presenter)

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop()
	svc.Stop()

	if svc.State() != StateIdle {
		t.Fatalf("state got %s want IDLE", svc.State())
	}
	if !feed.subs[0].closed.Load() {
		t.Fatalf("subscription left open after stop")
	}
	if got := presenter.streamErrors(); len(got) != 0 {
		t.Fatalf("deliberate stop reported as error: %v", got)
	}
	conns := presenter.connections()
	if len(conns) != 2 || conns[0] != true || conns[1] != false {
		t.Fatalf("connection transitions got %v want [true false]", conns)
	}
}

func TestTransportErrorReportedAndSessionEnds(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	presenter := &fakePresenter{}
	svc := newTestService(feed, presenter)

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	feed.subs[0].errs <- errors.New("connection reset")

	waitFor(t, func() bool { return len(presenter.streamErrors()) == 1 }, "stream error never reported")
	waitFor(t, func() bool { return svc.State() == StateFailed }, "session never entered FAILED")
	if !feed.subs[0].closed.Load() {
		t.Fatalf("subscription left open after failure")
	}
}

type slowPreflightFeed struct {
	fakeFeed
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *slowPreflightFeed) TradingStatus(ctx context.Context, instrumentID string) (marketdata.TradingStatus, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if current <= max || f.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	// hold the pre-flight open so overlapping Starts would pile up here
	time.Sleep(20 * time.Millisecond)
	return f.status, nil
}

func TestConcurrentStartsLeaveExactlyOneSession(t *testing.T) {
	feed := &slowPreflightFeed{fakeFeed: fakeFeed{status: normalStatus()}}
	svc := newTestService(feed, &fakePresenter{})
	defer svc.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := svc.Start(context.Background(), id); err != nil {
				t.Errorf("start %s: %v", id, err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if got := feed.maxInFlight.Load(); got != 1 {
		t.Fatalf("concurrent pre-flights got %d want 1", got)
	}
	open := 0
	for _, sub := range feed.subs {
		if !sub.closed.Load() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("live subscriptions got %d want 1", open)
	}
	if svc.State() != StateStreaming {
		t.Fatalf("state got %s want STREAMING", svc.State())
	}
}

func TestFailedPreflightDoesNotClaimInstrument(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	svc := newTestService(feed, &fakePresenter{})
	defer svc.Stop()

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop()

	feed.status = marketdata.TradingStatus{Status: "SECURITY_TRADING_STATUS_CLOSED", NormalTrading: false}
	if err := svc.Start(context.Background(), "instrument-2"); !errors.Is(err, ErrNotTradable) {
		t.Fatalf("error got %v want ErrNotTradable", err)
	}
	if svc.InstrumentID() != "instrument-1" {
		t.Fatalf("instrument got %s, a rejected start must not claim the instrument", svc.InstrumentID())
	}
}

func TestStartReplacesPreviousSession(t *testing.T) {
	feed := &fakeFeed{status: normalStatus()}
	svc := newTestService(feed, &fakePresenter{})
	defer svc.Stop()

	if err := svc.Start(context.Background(), "instrument-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := svc.Start(context.Background(), "instrument-2"); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if len(feed.subs) != 2 {
		t.Fatalf("subscriptions got %d want 2", len(feed.subs))
	}
	if !feed.subs[0].closed.Load() {
		t.Fatalf("first subscription survived the restart")
	}
	if feed.subs[1].closed.Load() {
		t.Fatalf("second subscription is not live")
	}
	if svc.InstrumentID() != "instrument-2" {
		t.Fatalf("instrument got %s want instrument-2", svc.InstrumentID())
	}
}
