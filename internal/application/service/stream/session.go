package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

// State is the lifecycle state of the streaming session.
type State string

const (
	StateIdle      State = "IDLE"
	StateStarting  State = "STARTING"
	StateStreaming State = "STREAMING"
	StateStopping  State = "STOPPING"
	StateFailed    State = "FAILED"
)

var (
	ErrNotTradable  = errors.New("instrument is not in normal trading mode")
	ErrNoInstrument = errors.New("instrument id is empty")
)

// Service owns at most one live market data subscription at a time. It
// runs the pre-flight trading status check, keeps the outbound keep-alive
// going, and pumps normalized events into one persistent channel that
// consumers hold across session restarts. Starting a new session stops
// the previous one first.
type Service struct {
	feed      interfaces.MarketDataFeed
	presenter interfaces.Presenter
	depth     int32
	heartbeat time.Duration
	logger    *logrus.Entry

	events chan marketdata.Event

	// startMu serializes the whole start sequence so two concurrent
	// Starts can never leave two live subscriptions behind.
	startMu sync.Mutex

	mu           sync.Mutex
	state        State
	instrumentID string
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewService(feed interfaces.MarketDataFeed, presenter interfaces.Presenter, depth int32, heartbeat time.Duration, buffer int, logger *logrus.Logger) *Service {
	if buffer <= 0 {
		buffer = 256
	}
	if heartbeat <= 0 {
		heartbeat = 100 * time.Millisecond
	}
	return &Service{
		feed:      feed,
		presenter: presenter,
		depth:     depth,
		heartbeat: heartbeat,
		logger:    logger.WithField("component", "stream_session"),
		events:    make(chan marketdata.Event, buffer),
		state:     StateIdle,
	}
}

// SetPresenter wires the presentation callbacks. Call before Start.
func (s *Service) SetPresenter(presenter interfaces.Presenter) {
	s.presenter = presenter
}

// Events returns the persistent event channel. It is never closed; a
// consumer keeps ranging over it across session restarts.
func (s *Service) Events() <-chan marketdata.Event {
	return s.events
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InstrumentID returns the instrument of the current or most recent
// session.
func (s *Service) InstrumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instrumentID
}

// Start begins streaming the given instrument. Any previous session is
// stopped first. The trading status pre-flight rejects instruments that
// are not in normal trading with ErrNotTradable.
func (s *Service) Start(ctx context.Context, instrumentID string) error {
	if instrumentID == "" {
		return ErrNoInstrument
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.Stop()

	sessionID := uuid.NewString()
	logger := s.logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"instrument_id": instrumentID,
	})

	s.setState(StateStarting)

	status, err := s.feed.TradingStatus(ctx, instrumentID)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("trading status pre-flight: %w", err)
	}
	if !status.NormalTrading {
		s.setState(StateIdle)
		return fmt.Errorf("%w: %s", ErrNotTradable, status.Status)
	}

	sub, err := s.feed.Subscribe(ctx, instrumentID, s.depth)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateStreaming
	s.instrumentID = instrumentID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if s.presenter != nil {
		s.presenter.OnConnectionStatusChanged(true)
	}
	logger.Info("stream session started")

	go func() {
		defer cancel()
		s.run(runCtx, logger, sub, done)
	}()
	return nil
}

// Stop terminates the current session, if any, and waits for its workers
// to finish. Safe to call at any time.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		// an explicit stop acknowledges a failed session
		if s.state == StateFailed {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Service) run(ctx context.Context, logger *logrus.Entry, sub interfaces.MarketDataSubscription, done chan struct{}) {
	defer close(done)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.pumpEvents(groupCtx, sub)
	})
	group.Go(func() error {
		return s.pumpRaw(groupCtx, sub)
	})
	group.Go(func() error {
		return s.keepAlive(groupCtx, sub)
	})
	group.Go(func() error {
		select {
		case err := <-sub.Err():
			return fmt.Errorf("stream transport: %w", err)
		case <-groupCtx.Done():
			return groupCtx.Err()
		}
	})

	err := group.Wait()
	sub.Close()
	s.finish(logger, err)
}

func (s *Service) pumpEvents(ctx context.Context, sub interfaces.MarketDataSubscription) error {
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// receive loop ended; the watcher reports the cause
				return nil
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) pumpRaw(ctx context.Context, sub interfaces.MarketDataSubscription) error {
	for {
		select {
		case raw := <-sub.Raw():
			if s.presenter != nil {
				s.presenter.OnRawMessage(raw)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) keepAlive(ctx context.Context, sub interfaces.MarketDataSubscription) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sub.Ping(ctx); err != nil {
				return fmt.Errorf("keep-alive: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) finish(logger *logrus.Entry, err error) {
	deliberate := errors.Is(err, context.Canceled)

	s.mu.Lock()
	if deliberate || err == nil {
		s.state = StateIdle
	} else {
		// stays FAILED until the next Start overwrites it
		s.state = StateFailed
	}
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if s.presenter != nil {
		s.presenter.OnConnectionStatusChanged(false)
	}

	if deliberate || err == nil {
		logger.Info("stream session stopped")
		return
	}
	logger.WithError(err).Error("stream session failed")
	if s.presenter != nil {
		s.presenter.OnStreamError(err.Error())
	}
}

// setState changes the lifecycle state only. The instrument id is
// recorded exclusively by a successful Start, so a rejected pre-flight
// never claims an instrument it never streamed.
func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
