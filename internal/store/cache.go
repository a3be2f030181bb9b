package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"llmlatencybench/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	cacheGenerationKey = "llmbench:records:generation"
	cacheScanPrefix    = "llmbench:records:scan"
)

// CacheOptions configures the redis read cache
type CacheOptions struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CachedStore serves Scan results from redis. Every Put bumps a generation
// counter that is part of each cache key, so older entries are never read again.
// Redis failures fall through to the wrapped store.
type CachedStore struct {
	inner  RecordStore
	client *redis.Client
	ttl    time.Duration
	wt     time.Duration
	rt     time.Duration
	log    *logger.Logger
}

func NewCachedStore(inner RecordStore, opts CacheOptions, log *logger.Logger) *CachedStore {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 500 * time.Millisecond
	}

	c := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &CachedStore{
		inner:  inner,
		client: c,
		ttl:    opts.TTL,
		wt:     opts.WriteTimeout,
		rt:     opts.ReadTimeout,
		log:    log,
	}
}

func (s *CachedStore) Put(ctx context.Context, r Record) error {
	if err := s.inner.Put(ctx, r); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.wt)
	defer cancel()
	if err := s.client.Incr(wctx, cacheGenerationKey).Err(); err != nil {
		s.log.Warn("failed to invalidate record cache: %v", err)
	}
	return nil
}

func (s *CachedStore) Scan(ctx context.Context, f Filter) ([]Record, error) {
	key, ok := s.key(ctx, f)
	if ok {
		if records, hit := s.get(ctx, key); hit {
			return records, nil
		}
	}

	records, err := s.inner.Scan(ctx, f)
	if err != nil {
		return nil, err
	}

	if ok {
		s.set(ctx, key, records)
	}
	return records, nil
}

func (s *CachedStore) Close() error {
	return errors.Join(s.client.Close(), s.inner.Close())
}

// key returns the cache key for f, false when redis is unavailable
func (s *CachedStore) key(ctx context.Context, f Filter) (string, bool) {
	rctx, cancel := context.WithTimeout(ctx, s.rt)
	defer cancel()

	gen, err := s.client.Get(rctx, cacheGenerationKey).Int64()
	if err != nil && err != redis.Nil {
		s.log.Debug("record cache unavailable: %v", err)
		return "", false
	}
	return scanCacheKey(gen, f), true
}

func (s *CachedStore) get(ctx context.Context, key string) ([]Record, bool) {
	rctx, cancel := context.WithTimeout(ctx, s.rt)
	defer cancel()

	bs, err := s.client.Get(rctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var records []Record
	if err := json.Unmarshal(bs, &records); err != nil {
		return nil, false
	}
	return records, true
}

func (s *CachedStore) set(ctx context.Context, key string, records []Record) {
	bs, err := json.Marshal(records)
	if err != nil {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, s.wt)
	defer cancel()
	if err := s.client.Set(wctx, key, bs, s.ttl).Err(); err != nil {
		s.log.Debug("failed to cache scan result: %v", err)
	}
}

func scanCacheKey(gen int64, f Filter) string {
	streaming := "any"
	if f.Streaming != nil {
		streaming = strconv.FormatBool(*f.Streaming)
	}
	since, until := "", ""
	if !f.Since.IsZero() {
		since = f.Since.Format(TimestampLayout)
	}
	if !f.Until.IsZero() {
		until = f.Until.Format(TimestampLayout)
	}
	return fmt.Sprintf("%s:%d:%s:%s:%s:%s", cacheScanPrefix, gen, f.RunID, streaming, since, until)
}
