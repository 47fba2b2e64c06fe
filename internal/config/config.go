package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnv             = "development"
	defaultHTTPHost        = "0.0.0.0"
	defaultHTTPPort        = 8080
	defaultInvestEndpoint  = "invest-public-api.tinkoff.ru:443"
	defaultAppName         = "glass-aggregator"
	defaultOrderBookDepth  = 50
	defaultTradeThreshold  = 1000
	defaultVelocityWindow  = 5
	defaultHeartbeatMs     = 100
	defaultEventBuffer     = 256
	defaultBrokerTimezone  = "Europe/Moscow"
	defaultRedisDB         = 0
	defaultCacheTTLSeconds = 300
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env       string
	HTTP      HTTPConfig
	Invest    InvestConfig
	Stream    StreamConfig
	Analytics AnalyticsConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RabbitMQ  RabbitMQConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// InvestConfig stores provider API credentials and connection parameters.
type InvestConfig struct {
	Token         string
	Endpoint      string
	AppName       string
	SkipTLSVerify bool
}

// StreamConfig controls the market data stream session.
type StreamConfig struct {
	OrderBookDepth    int32
	HeartbeatInterval time.Duration
	EventBuffer       int
	BrokerTimezone    string
}

// AnalyticsConfig controls the trade analytics engine.
type AnalyticsConfig struct {
	TradeThreshold int64
	VelocityWindow time.Duration
}

// RedisConfig stores Redis connection parameters. An empty Addr disables
// the instruments cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	TTL time.Duration
}

// RabbitMQConfig stores the optional event tap target. An empty URL
// disables the tap.
type RabbitMQConfig struct {
	URL                string
	TradesExchange     string
	OrderBooksExchange string
	LastPricesExchange string
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	token := strings.TrimSpace(os.Getenv("INVEST_TOKEN"))
	if token == "" {
		return nil, errors.New("INVEST_TOKEN is required")
	}

	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}
	depth, err := getInt("ORDERBOOK_DEPTH", defaultOrderBookDepth)
	if err != nil {
		return nil, fmt.Errorf("parse ORDERBOOK_DEPTH: %w", err)
	}
	threshold, err := getInt("TRADE_THRESHOLD", defaultTradeThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse TRADE_THRESHOLD: %w", err)
	}
	window, err := getInt("VELOCITY_WINDOW_SECONDS", defaultVelocityWindow)
	if err != nil {
		return nil, fmt.Errorf("parse VELOCITY_WINDOW_SECONDS: %w", err)
	}
	heartbeat, err := getInt("HEARTBEAT_INTERVAL_MS", defaultHeartbeatMs)
	if err != nil {
		return nil, fmt.Errorf("parse HEARTBEAT_INTERVAL_MS: %w", err)
	}
	buffer, err := getInt("EVENT_BUFFER", defaultEventBuffer)
	if err != nil {
		return nil, fmt.Errorf("parse EVENT_BUFFER: %w", err)
	}
	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}
	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse CACHE_TTL_SECONDS: %w", err)
	}

	return &Config{
		Env: getString("APP_ENV", defaultEnv),
		HTTP: HTTPConfig{
			Host: getString("HTTP_HOST", defaultHTTPHost),
			Port: port,
		},
		Invest: InvestConfig{
			Token:         token,
			Endpoint:      getString("INVEST_ENDPOINT", defaultInvestEndpoint),
			AppName:       getString("INVEST_APP_NAME", defaultAppName),
			SkipTLSVerify: getBool("INVEST_INSECURE_SKIP_VERIFY", false),
		},
		Stream: StreamConfig{
			OrderBookDepth:    int32(depth),
			HeartbeatInterval: time.Duration(heartbeat) * time.Millisecond,
			EventBuffer:       buffer,
			BrokerTimezone:    getString("BROKER_TIMEZONE", defaultBrokerTimezone),
		},
		Analytics: AnalyticsConfig{
			TradeThreshold: int64(threshold),
			VelocityWindow: time.Duration(window) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{
			TTL: time.Duration(cacheTTL) * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			URL:                os.Getenv("RABBITMQ_URL"),
			TradesExchange:     getString("RABBITMQ_TRADES_EXCHANGE", "glass.trades"),
			OrderBooksExchange: getString("RABBITMQ_ORDERBOOKS_EXCHANGE", "glass.orderbooks"),
			LastPricesExchange: getString("RABBITMQ_LASTPRICES_EXCHANGE", "glass.lastprices"),
		},
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "y":
		return true
	case "0", "f", "false", "no", "n":
		return false
	default:
		return fallback
	}
}
