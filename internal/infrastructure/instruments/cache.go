package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	instruments "main/internal/domain/entity/instruments"
	interfaces "main/internal/domain/interfaces"
)

// CachedDirectory is a read-through Redis cache in front of the provider
// directory. Instrument reference data changes rarely, so a cache miss
// falls through to the provider and the result is stored with a TTL. Any
// cache failure degrades to a direct provider call.
type CachedDirectory struct {
	next   interfaces.InstrumentsDirectory
	cache  *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

var _ interfaces.InstrumentsDirectory = (*CachedDirectory)(nil)

func NewCachedDirectory(next interfaces.InstrumentsDirectory, cache *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.WithField("component", "instruments_cache"),
	}
}

func (d *CachedDirectory) ListInstruments(ctx context.Context, classCode string) ([]instruments.Instrument, error) {
	key := fmt.Sprintf("instruments:list:%s", classCode)
	return d.lookup(ctx, key, func() ([]instruments.Instrument, error) {
		return d.next.ListInstruments(ctx, classCode)
	})
}

func (d *CachedDirectory) SearchInstruments(ctx context.Context, query string) ([]instruments.Instrument, error) {
	key := fmt.Sprintf("instruments:search:%s", query)
	return d.lookup(ctx, key, func() ([]instruments.Instrument, error) {
		return d.next.SearchInstruments(ctx, query)
	})
}

func (d *CachedDirectory) lookup(ctx context.Context, key string, fetch func() ([]instruments.Instrument, error)) ([]instruments.Instrument, error) {
	if d.cache != nil {
		if cached, err := d.cache.Get(ctx, key).Bytes(); err == nil {
			var result []instruments.Instrument
			if unmarshalErr := json.Unmarshal(cached, &result); unmarshalErr == nil {
				return result, nil
			}
			d.logger.WithField("key", key).Warn("drop undecodable cache entry")
			_ = d.cache.Del(ctx, key).Err()
		}
	}

	result, err := fetch()
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if payload, marshalErr := json.Marshal(result); marshalErr == nil {
			if setErr := d.cache.Set(ctx, key, payload, d.ttl).Err(); setErr != nil {
				d.logger.WithError(setErr).WithField("key", key).Warn("cache write failed")
			}
		}
	}
	return result, nil
}
