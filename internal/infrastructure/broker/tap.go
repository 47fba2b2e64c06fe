package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

// Exchanges names the fanout exchanges the tap publishes to, one per
// event kind.
type Exchanges struct {
	Trades     string
	OrderBooks string
	LastPrices string
}

// Tap mirrors normalized events to RabbitMQ fanout exchanges so external
// consumers can follow the same stream the aggregator sees. The channel
// is guarded by a mutex: amqp channels are not safe for concurrent
// publishing.
type Tap struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchanges Exchanges
	logger    *logrus.Entry
}

var _ interfaces.EventTap = (*Tap)(nil)

// NewTap connects to RabbitMQ and declares the fanout exchanges.
func NewTap(url string, exchanges Exchanges, logger *logrus.Logger) (*Tap, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	for _, name := range []string{exchanges.Trades, exchanges.OrderBooks, exchanges.LastPrices} {
		if name == "" {
			_ = ch.Close()
			_ = conn.Close()
			return nil, errors.New("exchange name cannot be empty")
		}
		if err := ch.ExchangeDeclare(name, "fanout", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	tap := &Tap{
		conn:      conn,
		channel:   ch,
		exchanges: exchanges,
		logger:    logger.WithField("component", "broker_tap"),
	}
	tap.logger.Infof("event tap connected: exchanges=%s,%s,%s", exchanges.Trades, exchanges.OrderBooks, exchanges.LastPrices)
	return tap, nil
}

// PublishEvent routes one event to the exchange matching its kind.
func (t *Tap) PublishEvent(ctx context.Context, event marketdata.Event) error {
	switch e := event.(type) {
	case *marketdata.OrderBookSnapshot:
		return t.publish(ctx, t.exchanges.OrderBooks, envelope{OrderBookSnapshot: e})
	case *marketdata.Trade:
		return t.publish(ctx, t.exchanges.Trades, envelope{Trade: e})
	case *marketdata.LastPrice:
		return t.publish(ctx, t.exchanges.LastPrices, envelope{LastPrice: e})
	default:
		return fmt.Errorf("unsupported event type %T", event)
	}
}

func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channel != nil {
		_ = t.channel.Close()
		t.channel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// envelope wraps exactly one event kind so consumers can decode without
// out-of-band type information.
type envelope struct {
	Trade             *marketdata.Trade             `json:"trade,omitempty"`
	OrderBookSnapshot *marketdata.OrderBookSnapshot `json:"order_book,omitempty"`
	LastPrice         *marketdata.LastPrice         `json:"last_price,omitempty"`
}

func (t *Tap) publish(ctx context.Context, exchange string, payload envelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channel == nil {
		return errors.New("tap is closed")
	}
	return t.channel.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
