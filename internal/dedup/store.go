// Package dedup remembers which video ids have already been relayed.
//
// Every driver keeps insertion order and trims oldest-first: once the
// persisted form would exceed Config.MaxBytes, only the newest
// Config.KeepRecent ids are kept. The id being committed always survives.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "hubrelay/pkg/logx"
)

// Store is a persisted set of committed ids.
//
// Commit is idempotent. A Commit that fails to persist still records the id in
// memory for the rest of the process lifetime and returns an error wrapping ErrWrite.
type Store interface {
	Contains(ctx context.Context, id string) (bool, error)
	Commit(ctx context.Context, id string) error
	Len() int
	Close() error
}

var (
	ErrWrite  = errors.New("dedup: persist failed")
	ErrClosed = errors.New("dedup: store closed")
)

type Config struct {
	Driver      string
	Path        string
	MaxBytes    int
	KeepRecent  int
	BusyTimeout time.Duration

	Redis RedisConfig
	S3    S3Config
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	CacheTTL time.Duration
}

type S3Config struct {
	Bucket       string
	Key          string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

const (
	defaultMaxBytes   = 1_000_000
	defaultKeepRecent = 1000
	defaultPath       = "/data/posted_videos.json"
	defaultRedisKey   = "hubrelay:posted"
	defaultS3Key      = "posted_videos.json"
	defaultCacheTTL   = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = defaultMaxBytes
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = defaultKeepRecent
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = defaultPath
	}
	if strings.TrimSpace(c.Redis.Key) == "" {
		c.Redis.Key = defaultRedisKey
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = defaultCacheTTL
	}
	if strings.TrimSpace(c.S3.Key) == "" {
		c.S3.Key = defaultS3Key
	}
	return c
}

// Open initializes the configured driver. Unreadable or corrupt persisted
// state is logged and replaced by an empty set; only setup failures (bad
// driver, unreachable backend, unwritable directory) are returned.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		st, err := openRedis(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return NewCached(st, cfg.Redis.CacheTTL), nil
	case "s3":
		return openS3(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown dedup driver: %s", cfg.Driver)
	}
}

// serializedSize is the byte length of ids encoded as a JSON array of strings,
// assuming ids need no escaping (video ids are URL-safe base64).
func serializedSize(n, idBytes int) int {
	if n == 0 {
		return 2
	}
	// brackets + quotes around each id + commas between ids
	return 2 + idBytes + 2*n + (n - 1)
}
