package surveys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/metrics"
)

// NewRedisClient connects to the cache configured in cfg.
func NewRedisClient(ctx context.Context, cfg *config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// CachedLookup is a read-through Redis cache in front of another Lookup.
// Cache failures are logged and fall through to the wrapped lookup.
type CachedLookup struct {
	next  Lookup
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{
		next:  next,
		redis: client,
		ttl:   ttl,
	}
}

// Key generates the cache key of a survey's published version.
func (c *CachedLookup) Key(appID, surveyGUID string) string {
	return fmt.Sprintf("bridgesched:survey:published:%s:%s", appID, surveyGUID)
}

func (c *CachedLookup) MostRecentPublishedVersion(ctx context.Context, appID, surveyGUID string) (*Survey, error) {
	key := c.Key(appID, surveyGUID)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var survey Survey
		if err := json.Unmarshal(data, &survey); err == nil {
			metrics.RecordSurveyCache(metrics.CacheHit)
			return &survey, nil
		}
		log.Warn().Str("key", key).Msg("Discarding malformed cached survey")
		metrics.RecordSurveyCache(metrics.CacheError)
	case errors.Is(err, redis.Nil):
		metrics.RecordSurveyCache(metrics.CacheMiss)
	default:
		log.Warn().Err(err).Str("key", key).Msg("Survey cache read failed")
		metrics.RecordSurveyCache(metrics.CacheError)
	}

	survey, err := c.next.MostRecentPublishedVersion(ctx, appID, surveyGUID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(survey); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Survey cache write failed")
		}
	}

	return survey, nil
}

// Invalidate drops the cached version of a survey, e.g. after publishing.
func (c *CachedLookup) Invalidate(ctx context.Context, appID, surveyGUID string) error {
	if err := c.redis.Del(ctx, c.Key(appID, surveyGUID)).Err(); err != nil {
		return fmt.Errorf("invalidating survey cache: %w", err)
	}
	return nil
}
