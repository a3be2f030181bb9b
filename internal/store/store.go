package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
)

// TimestampLayout is the layout of Record.Timestamp, in local time
const TimestampLayout = "2006-01-02 15:04:05"

// ErrDuplicateRecord is returned when a record id already exists
var ErrDuplicateRecord = errors.New("record already exists")

// Record is one aggregated result row: a provider and model within a run.
// Records are immutable once written.
type Record struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	Timestamp    string `json:"timestamp"`
	ProviderName string `json:"provider_name"`
	ModelName    string `json:"model_name"`
	ModelKey     string `json:"model_key"`
	Prompt       string `json:"prompt"`
	Metrics      string `json:"metrics"`
	Streaming    bool   `json:"streaming"`
}

// Time parses Timestamp in local time
func (r Record) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, r.Timestamp, time.Local)
}

// Filter selects records. Zero fields match everything. Since is inclusive,
// Until exclusive.
type Filter struct {
	RunID     string
	Streaming *bool
	Since     time.Time
	Until     time.Time
}

// Match reports whether r passes the filter
func (f Filter) Match(r Record) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Streaming != nil && r.Streaming != *f.Streaming {
		return false
	}
	// the layout sorts lexically in time order
	if !f.Since.IsZero() && r.Timestamp < f.Since.Format(TimestampLayout) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp >= f.Until.Format(TimestampLayout) {
		return false
	}
	return true
}

// RecordStore persists aggregated records. Implementations only insert.
type RecordStore interface {
	Put(ctx context.Context, r Record) error
	// Scan returns matching records ordered by timestamp then id
	Scan(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}

// sortRecords orders by timestamp, then id. Sink ids are time-ordered, so
// records sharing a timestamp keep their write order.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
}

// Bool returns a pointer to b, for Filter.Streaming
func Bool(b bool) *bool { return &b }

// Open builds the store selected by cfg.StoreDriver, wrapped in a redis read
// cache when REDIS_ADDR is set
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (RecordStore, error) {
	var (
		s   RecordStore
		err error
	)

	switch cfg.StoreDriver {
	case "memory":
		s = NewMemoryStore()
	case "sqlite":
		s, err = NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		s, err = NewPostgresStore(cfg.PostgresDSN)
	case "dynamodb":
		s, err = NewDynamoStore(ctx, DynamoOptions{
			Table:           cfg.DynamoTable,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		s = NewCachedStore(s, CacheOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			TTL:          cfg.CacheTTL,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		}, log)
	}

	return s, nil
}
