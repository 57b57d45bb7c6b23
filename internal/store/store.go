package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"stocklive/config"
	"stocklive/logger"
)

// Store is the cache-aside adapter in front of the shared redis store. Reads
// go remote first and transparently fall back to an in-process cache when the
// remote is unreachable; writes are best-effort remote and always applied
// locally so in-process readers stay consistent during an outage.
type Store struct {
	rdb       *redis.Client
	local     *localCache
	opTimeout time.Duration
	log       *logger.Log
}

// New builds a Store. An empty addr yields a local-only store, which keeps the
// pipeline serviceable when no shared cache is configured.
func New(cfg config.CacheConfig, log *logger.Log) *Store {
	s := &Store{
		local:     newLocalCache(),
		opTimeout: cfg.OpTimeout,
		log:       log,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = 2 * time.Second
	}
	if cfg.Addr != "" {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		})
	}
	return s
}

// NewWithClient wires an existing redis client, used by tests.
func NewWithClient(rdb *redis.Client, log *logger.Log) *Store {
	return &Store{
		rdb:       rdb,
		local:     newLocalCache(),
		opTimeout: 2 * time.Second,
		log:       log,
	}
}

// Ping verifies the remote connection. A failure is not fatal to the caller;
// the adapter keeps serving from the local cache.
func (s *Store) Ping(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.rdb.Ping(opCtx).Err()
}

// Get reads key into out and reports whether a value was found. Remote errors
// are contained here: the local cache answers instead, and a miss on both
// sides is simply "no data", never an error.
func (s *Store) Get(ctx context.Context, key string, out interface{}) bool {
	now := time.Now()

	if s.rdb != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		data, err := s.rdb.Get(opCtx, key).Bytes()
		cancel()
		switch {
		case err == nil:
			if uerr := json.Unmarshal(data, out); uerr != nil {
				s.log.WithComponent("store").WithError(uerr).WithFields(logger.Fields{"key": key}).Warn("corrupt remote cache entry")
				return false
			}
			// Mirror remote hits so the local cache can answer during a
			// remote outage.
			ttl := time.Duration(0)
			opCtx, cancel = context.WithTimeout(ctx, s.opTimeout)
			if d, terr := s.rdb.TTL(opCtx, key).Result(); terr == nil && d > 0 {
				ttl = d
			}
			cancel()
			s.local.set(key, data, ttl, now)
			return true
		case errors.Is(err, redis.Nil):
			// fall through to the local cache
		default:
			s.log.WithComponent("store").WithError(err).WithFields(logger.Fields{"key": key}).Warn("remote cache read failed, using local fallback")
		}
	}

	data, ok := s.local.get(key, now)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.local.delete(key)
		return false
	}
	return true
}

// Set writes key with the given TTL (0 = no expiry). A remote failure is
// logged and dropped; the local cache is updated regardless so the write is
// never lost to in-process readers.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.log.WithComponent("store").WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to encode cache value")
		return
	}

	s.local.set(key, data, ttl, time.Now())
	logger.IncrementStoreWrite()

	if s.rdb == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.rdb.Set(opCtx, key, data, ttl).Err(); err != nil {
		s.log.WithComponent("store").WithError(err).WithFields(logger.Fields{"key": key}).Warn("remote cache write failed, kept local copy")
	}
}

// Close releases the remote connection.
func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
