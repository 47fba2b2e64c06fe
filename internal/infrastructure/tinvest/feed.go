package tinvest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

const (
	eventBufferSize = 256
	rawBufferSize   = 64
)

// Config holds the provider connection settings for the feed adapter.
type Config struct {
	Endpoint      string
	Token         string
	AppName       string
	SkipTLSVerify bool
}

// Feed implements the MarketDataFeed port on top of the T-Invest API:
// unary calls go through the investgo client, the market data stream is
// opened as a raw bidirectional gRPC stream so the session can drive the
// outbound keep-alive itself.
type Feed struct {
	cfg        Config
	md         *investgo.MarketDataServiceClient
	normalizer *Normalizer
	logger     *logrus.Entry
}

var _ interfaces.MarketDataFeed = (*Feed)(nil)

func NewFeed(cfg Config, client *investgo.Client, normalizer *Normalizer, logger *logrus.Logger) *Feed {
	return &Feed{
		cfg:        cfg,
		md:         client.NewMarketDataServiceClient(),
		normalizer: normalizer,
		logger:     logger.WithField("component", "tinvest_feed"),
	}
}

// TradingStatus runs the pre-flight check for one instrument.
func (f *Feed) TradingStatus(ctx context.Context, instrumentID string) (marketdata.TradingStatus, error) {
	if strings.TrimSpace(instrumentID) == "" {
		return marketdata.TradingStatus{}, errors.New("instrument id is empty")
	}
	resp, err := f.md.GetTradingStatus(instrumentID)
	if err != nil {
		return marketdata.TradingStatus{}, fmt.Errorf("get trading status: %w", err)
	}
	status := resp.GetTradingStatus()
	return marketdata.TradingStatus{
		Status:        status.String(),
		NormalTrading: status == pb.SecurityTradingStatus_SECURITY_TRADING_STATUS_NORMAL_TRADING,
	}, nil
}

// Subscribe opens one long-lived stream covering order book, trades and
// last price for the instrument and starts the receive loop.
func (f *Feed) Subscribe(ctx context.Context, instrumentID string, depth int32) (interfaces.MarketDataSubscription, error) {
	if strings.TrimSpace(instrumentID) == "" {
		return nil, errors.New("instrument id is empty")
	}

	conn, err := grpc.Dial(
		grpcTarget(f.cfg.Endpoint),
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: f.cfg.SkipTLSVerify,
			MinVersion:         tls.VersionTLS12,
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial market data stream: %w", err)
	}

	streamCtx := metadata.AppendToOutgoingContext(ctx,
		"authorization", "Bearer "+f.cfg.Token,
		"x-app-name", f.cfg.AppName,
	)
	stream, err := pb.NewMarketDataStreamServiceClient(conn).MarketDataStream(streamCtx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open market data stream: %w", err)
	}

	if err := sendSubscribeRequests(stream, instrumentID, depth); err != nil {
		_ = conn.Close()
		return nil, err
	}

	sub := &subscription{
		conn:   conn,
		stream: stream,
		events: make(chan marketdata.Event, eventBufferSize),
		raw:    make(chan string, rawBufferSize),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
		logger: f.logger.WithField("instrument_id", instrumentID),
	}
	go sub.receiveLoop(f.normalizer)
	return sub, nil
}

func sendSubscribeRequests(stream pb.MarketDataStreamService_MarketDataStreamClient, instrumentID string, depth int32) error {
	requests := []*pb.MarketDataRequest{
		{
			Payload: &pb.MarketDataRequest_SubscribeOrderBookRequest{
				SubscribeOrderBookRequest: &pb.SubscribeOrderBookRequest{
					SubscriptionAction: pb.SubscriptionAction_SUBSCRIPTION_ACTION_SUBSCRIBE,
					Instruments: []*pb.OrderBookInstrument{
						{InstrumentId: instrumentID, Depth: depth},
					},
				},
			},
		},
		{
			Payload: &pb.MarketDataRequest_SubscribeTradesRequest{
				SubscribeTradesRequest: &pb.SubscribeTradesRequest{
					SubscriptionAction: pb.SubscriptionAction_SUBSCRIPTION_ACTION_SUBSCRIBE,
					Instruments: []*pb.TradeInstrument{
						{InstrumentId: instrumentID},
					},
				},
			},
		},
		{
			Payload: &pb.MarketDataRequest_SubscribeLastPriceRequest{
				SubscribeLastPriceRequest: &pb.SubscribeLastPriceRequest{
					SubscriptionAction: pb.SubscriptionAction_SUBSCRIPTION_ACTION_SUBSCRIBE,
					Instruments: []*pb.LastPriceInstrument{
						{InstrumentId: instrumentID},
					},
				},
			},
		},
	}
	for _, req := range requests {
		if err := stream.Send(req); err != nil {
			return fmt.Errorf("send subscribe request: %w", err)
		}
	}
	return nil
}

type subscription struct {
	conn   *grpc.ClientConn
	stream pb.MarketDataStreamService_MarketDataStreamClient
	events chan marketdata.Event
	raw    chan string
	errs   chan error
	closed chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

var _ interfaces.MarketDataSubscription = (*subscription)(nil)

func (s *subscription) Events() <-chan marketdata.Event { return s.events }
func (s *subscription) Raw() <-chan string              { return s.raw }
func (s *subscription) Err() <-chan error               { return s.errs }

// Ping sends the empty keep-alive request. The session calls it on its own
// heartbeat cadence; this is the only writer after the subscribe handshake,
// so sends never race.
func (s *subscription) Ping(ctx context.Context) error {
	select {
	case <-s.closed:
		return errors.New("subscription is closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return s.stream.Send(&pb.MarketDataRequest{})
}

func (s *subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *subscription) receiveLoop(normalizer *Normalizer) {
	defer close(s.events)
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			select {
			case <-s.closed:
				s.logger.WithError(err).Debug("stream receive ended after close")
			default:
				s.errs <- err
			}
			return
		}
		select {
		case s.raw <- resp.String():
		default:
			// debug tap only, drop when nobody drains it
		}
		for _, event := range normalizer.Normalize(resp) {
			select {
			case s.events <- event:
			case <-s.closed:
				return
			}
		}
	}
}

func grpcTarget(endpoint string) string {
	target := strings.TrimSpace(endpoint)
	target = strings.TrimPrefix(target, "https://")
	target = strings.TrimPrefix(target, "http://")
	if !strings.Contains(target, ":") {
		target += ":443"
	}
	return target
}
