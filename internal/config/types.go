package config

// Config is the on-disk relay configuration (JSON or YAML).
//
// Durations are Go duration strings ("10s", "1m", "720h"). Zero/empty values
// fall back to the defaults documented on each field.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Hub      HubConfig      `json:"hub"`
	Sources  []Source       `json:"sources"`
	Routes   []Route        `json:"routes"`
	Delivery DeliveryConfig `json:"delivery"`
	Dedup    DedupConfig    `json:"dedup"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Audit    *AuditConfig   `json:"audit,omitempty"`
	Admin    AdminConfig    `json:"admin"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

type ServerConfig struct {
	// Addr defaults to ":5000" (or ":$PORT").
	Addr string `json:"addr"`
	// CallbackPath is where the hub verifies and delivers. Default "/youtube-webhook".
	CallbackPath string `json:"callback_path,omitempty"`
	// MaxInflight bounds concurrently processed notification batches. Default 8.
	MaxInflight int `json:"max_inflight,omitempty"`
	// MaxBodyBytes caps inbound notification bodies. Default 1 MiB.
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	Banner       string `json:"banner,omitempty"`
}

type HubConfig struct {
	// URL of the hub subscribe endpoint. Default https://pubsubhubbub.appspot.com/subscribe.
	URL string `json:"url,omitempty"`
	// PublicURL is the externally reachable base URL; the callback is PublicURL+CallbackPath.
	// Usually provided via $PUBLIC_URL.
	PublicURL string `json:"public_url,omitempty"`
	// RenewEvery is a Go duration or a cron spec prefixed with "cron:". Default "720h".
	RenewEvery   string `json:"renew_every,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	LeaseSeconds int    `json:"lease_seconds,omitempty"`
	// Disabled turns off the background renewer (manual `relay subscribe` still works).
	Disabled bool `json:"disabled,omitempty"`
}

// Source is one watched channel.
type Source struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
}

// Route binds a title keyword to a delivery target. Order is significant.
//
// Target is either an http(s) chat webhook URL or "tg://<chat_id>[/<thread_id>]".
type Route struct {
	Keyword string `json:"keyword"`
	Target  string `json:"target"`
}

type DeliveryConfig struct {
	Timeout           string `json:"timeout,omitempty"`             // default 10s
	Pacing            string `json:"pacing,omitempty"`              // default 1s
	NoPacing          bool   `json:"no_pacing,omitempty"`           // disables the inter-delivery delay
	DefaultRetryAfter string `json:"default_retry_after,omitempty"` // default 2s
	MaxRetryAfter     string `json:"max_retry_after,omitempty"`     // default 60s

	// RatePerSec is a per-target token bucket shared by all workers (0 = off).
	RatePerSec float64 `json:"rate_per_sec,omitempty"`

	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Color     int    `json:"color,omitempty"`

	// TelegramToken enables tg:// targets. Usually provided via $TELEGRAM_BOT_TOKEN (never logged).
	TelegramToken string `json:"telegram_token,omitempty"`
}

// DedupConfig controls the persisted set of already-relayed video ids.
//
// Example:
//
//	"dedup": { "driver": "file", "path": "/data/posted_videos.json" }
type DedupConfig struct {
	Driver      string      `json:"driver,omitempty"` // file (default) | sqlite | redis | s3
	Path        string      `json:"path,omitempty"`
	MaxBytes    int         `json:"max_bytes,omitempty"`    // default 1000000
	KeepRecent  int         `json:"keep_recent,omitempty"`  // default 1000
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
	S3          S3Config    `json:"s3,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`       // default "hubrelay:posted"
	CacheTTL string `json:"cache_ttl,omitempty"` // default 10m
}

type S3Config struct {
	Bucket       string `json:"bucket,omitempty"`
	Key          string `json:"key,omitempty"` // default "posted_videos.json"
	Region       string `json:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Webhook LoggingWebhook `json:"webhook"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingWebhook mirrors warnings/errors into an ops chat channel.
// URL accepts the same target syntax as routes.
type LoggingWebhook struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default "/metrics"
}

// AuditConfig records every delivery attempt.
//
//	"audit": { "driver": "file", "path": "./audit.jsonl" }
//	"audit": { "driver": "kafka", "brokers": ["localhost:9092"], "topic": "hubrelay.deliveries" }
type AuditConfig struct {
	Driver  string   `json:"driver"`
	Path    string   `json:"path,omitempty"`
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Buffer  int      `json:"buffer,omitempty"`
}

// AdminConfig gates the /admin endpoints. Tokens are merged with $ADMIN_TOKENS.
type AdminConfig struct {
	Tokens []string `json:"tokens,omitempty"`
}

// PprofConfig mounts net/http/pprof under the admin group.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"` // default "/debug/pprof"

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
