package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	"github.com/sirupsen/logrus"

	appanalytics "main/internal/application/service/analytics"
	appglass "main/internal/application/service/glass"
	apporderbook "main/internal/application/service/orderbook"
	appstream "main/internal/application/service/stream"
	"main/internal/config"
	"main/internal/domain/interfaces"
	infrabroker "main/internal/infrastructure/broker"
	infrainstruments "main/internal/infrastructure/instruments"
	"main/internal/infrastructure/tinvest"
	infrahttp "main/internal/interfaces/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	location, err := time.LoadLocation(cfg.Stream.BrokerTimezone)
	if err != nil {
		logger.Fatalf("load broker timezone %s: %v", cfg.Stream.BrokerTimezone, err)
	}

	investCfg := investgo.Config{
		EndPoint:           cfg.Invest.Endpoint,
		Token:              cfg.Invest.Token,
		AppName:            cfg.Invest.AppName,
		InsecureSkipVerify: cfg.Invest.SkipTLSVerify,
	}
	client, err := investgo.NewClient(ctx, investCfg, logger)
	if err != nil {
		logger.Fatalf("create invest api client: %v", err)
	}
	defer func() {
		if stopErr := client.Stop(); stopErr != nil {
			logger.Errorf("stop invest api client: %v", stopErr)
		}
	}()

	normalizer := tinvest.NewNormalizer(location, logger)
	feed := tinvest.NewFeed(tinvest.Config{
		Endpoint:      cfg.Invest.Endpoint,
		Token:         cfg.Invest.Token,
		AppName:       cfg.Invest.AppName,
		SkipTLSVerify: cfg.Invest.SkipTLSVerify,
	}, client, normalizer, logger)

	var directory interfaces.InstrumentsDirectory = tinvest.NewDirectory(client, logger)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		directory = infrainstruments.NewCachedDirectory(directory, redisClient, cfg.Cache.TTL, logger)
	}

	var tap interfaces.EventTap
	if cfg.RabbitMQ.URL != "" {
		brokerTap, err := infrabroker.NewTap(cfg.RabbitMQ.URL, infrabroker.Exchanges{
			Trades:     cfg.RabbitMQ.TradesExchange,
			OrderBooks: cfg.RabbitMQ.OrderBooksExchange,
			LastPrices: cfg.RabbitMQ.LastPricesExchange,
		}, logger)
		if err != nil {
			logger.Fatalf("failed to init event tap: %v", err)
		}
		defer brokerTap.Close()
		tap = brokerTap
	}

	engine := appanalytics.NewEngine(cfg.Analytics.TradeThreshold, cfg.Analytics.VelocityWindow, location, logger)
	aggregator := apporderbook.NewAggregator(engine)
	glassSvc := appglass.NewService(aggregator, nil, tap, logger)
	session := appstream.NewService(feed, nil, cfg.Stream.OrderBookDepth, cfg.Stream.HeartbeatInterval, cfg.Stream.EventBuffer, logger)

	handler := infrahttp.NewHandler(session, glassSvc, engine, directory, logger)
	session.SetPresenter(handler)
	glassSvc.SetPresenter(handler)
	engine.SetListener(handler.OnAnalyticsUpdated)

	go engine.Run(ctx)
	go glassSvc.Run(ctx, session.Events())

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down server")

	session.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
	logger.Info("server stopped")
}
