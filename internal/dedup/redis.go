package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	logx "hubrelay/pkg/logx"
)

// redisStore keeps ids in a sorted set scored by an insertion counter so
// several relay instances can share one dedup state.
//
// Keys:
//
//	<key>        ZSET id -> seq
//	<key>:seq    insertion counter
//	<key>:bytes  running id byte total (for size accounting)
type redisStore struct {
	rdb *redis.Client
	log logx.Logger

	key, seqKey, bytesKey string

	maxBytes int
	keep     int

	mu      sync.Mutex
	unsaved map[string]struct{}
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (*redisStore, error) {
	rc := cfg.Redis
	if strings.TrimSpace(rc.Addr) == "" {
		return nil, errors.New("dedup: redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dedup: redis ping %s: %w", rc.Addr, err)
	}

	s := &redisStore{
		rdb:      rdb,
		log:      log,
		key:      rc.Key,
		seqKey:   rc.Key + ":seq",
		bytesKey: rc.Key + ":bytes",
		maxBytes: cfg.MaxBytes,
		keep:     cfg.KeepRecent,
		unsaved:  map[string]struct{}{},
	}
	log.Info("dedup state loaded", logx.String("source", "redis:"+rc.Addr+"/"+rc.Key), logx.Int("ids", s.Len()))
	return s, nil
}

func (s *redisStore) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, pending := s.unsaved[id]
	s.mu.Unlock()
	if pending {
		return true, nil
	}
	err := s.rdb.ZScore(ctx, s.key, id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisStore) Commit(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.add(ctx, id)
	if err != nil {
		s.unsaved[id] = struct{}{}
		return fmt.Errorf("%w: redis add: %w", ErrWrite, err)
	}
	if !added {
		return nil
	}

	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("%w: redis zcard: %w", ErrWrite, err)
	}
	total, err := s.rdb.Get(ctx, s.bytesKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: redis bytes: %w", ErrWrite, err)
	}
	if serializedSize(int(n), total) <= s.maxBytes {
		return nil
	}
	return s.trim(ctx, int(n))
}

func (s *redisStore) add(ctx context.Context, id string) (bool, error) {
	seq, err := s.rdb.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return false, err
	}
	added, err := s.rdb.ZAddNX(ctx, s.key, redis.Z{Score: float64(seq), Member: id}).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}
	if err := s.rdb.IncrBy(ctx, s.bytesKey, int64(len(id))).Err(); err != nil {
		return true, err
	}
	return true, nil
}

// trim keeps the newest s.keep ids and rebuilds the byte counter from what is left.
func (s *redisStore) trim(ctx context.Context, before int) error {
	if err := s.rdb.ZRemRangeByRank(ctx, s.key, 0, int64(-s.keep-1)).Err(); err != nil {
		return fmt.Errorf("%w: redis trim: %w", ErrWrite, err)
	}
	left, err := s.rdb.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("%w: redis trim: %w", ErrWrite, err)
	}
	total := 0
	for _, id := range left {
		total += len(id)
	}
	if err := s.rdb.Set(ctx, s.bytesKey, total, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis trim: %w", ErrWrite, err)
	}
	s.log.Info("dedup state trimmed", logx.Int("dropped", before-len(left)), logx.Int("kept", len(left)))
	return nil
}

func (s *redisStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		s.log.Debug("dedup redis zcard failed", logx.Err(err))
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(n) + len(s.unsaved)
}

func (s *redisStore) Close() error { return s.rdb.Close() }
