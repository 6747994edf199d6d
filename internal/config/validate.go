package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	logx "hubrelay/pkg/logx"
)

// Validate performs structural checks that need no external collaborators.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if p := strings.TrimSpace(cfg.Server.CallbackPath); p != "" && !strings.HasPrefix(p, "/") {
		add(fmt.Errorf("server.callback_path must start with '/'"))
	}
	if cfg.Server.MaxInflight < 0 {
		add(fmt.Errorf("server.max_inflight must be >= 0"))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		add(fmt.Errorf("server.max_body_bytes must be >= 0"))
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"hub.timeout", cfg.Hub.Timeout},
		{"delivery.timeout", cfg.Delivery.Timeout},
		{"delivery.pacing", cfg.Delivery.Pacing},
		{"delivery.default_retry_after", cfg.Delivery.DefaultRetryAfter},
		{"delivery.max_retry_after", cfg.Delivery.MaxRetryAfter},
		{"dedup.busy_timeout", cfg.Dedup.BusyTimeout},
		{"dedup.redis.cache_ttl", cfg.Dedup.Redis.CacheTTL},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	if _, err := ParseScheduleSpec("hub.renew_every", cfg.Hub.RenewEvery, DefaultRenewEvery); err != nil {
		add(err)
	}
	if u := strings.TrimSpace(cfg.Hub.URL); u != "" {
		add(checkHTTPURL("hub.url", u))
	}
	if u := strings.TrimSpace(cfg.Hub.PublicURL); u != "" {
		add(checkHTTPURL("hub.public_url", u))
	}

	seen := make(map[string]struct{}, len(cfg.Sources))
	for i, s := range cfg.Sources {
		id := strings.TrimSpace(s.ChannelID)
		if id == "" {
			add(fmt.Errorf("sources[%d].channel_id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			add(fmt.Errorf("sources[%d].channel_id %q is duplicated", i, id))
		}
		seen[id] = struct{}{}
	}
	for i, r := range cfg.Routes {
		if strings.TrimSpace(r.Keyword) == "" {
			add(fmt.Errorf("routes[%d].keyword is required", i))
		}
		if strings.TrimSpace(r.Target) == "" {
			add(fmt.Errorf("routes[%d].target is required", i))
		}
	}

	if cfg.Delivery.RatePerSec < 0 {
		add(fmt.Errorf("delivery.rate_per_sec must be >= 0"))
	}
	if cfg.Delivery.Color < 0 || cfg.Delivery.Color > 0xFFFFFF {
		add(fmt.Errorf("delivery.color must be a 24-bit RGB value"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Dedup.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Dedup.Redis.Addr) == "" {
			add(fmt.Errorf("dedup.redis.addr is required when dedup.driver=redis"))
		}
	case "s3":
		if strings.TrimSpace(cfg.Dedup.S3.Bucket) == "" {
			add(fmt.Errorf("dedup.s3.bucket is required when dedup.driver=s3"))
		}
	default:
		add(fmt.Errorf("unknown dedup.driver: %s", cfg.Dedup.Driver))
	}
	if cfg.Dedup.MaxBytes < 0 || cfg.Dedup.KeepRecent < 0 {
		add(fmt.Errorf("dedup.max_bytes and dedup.keep_recent must be >= 0"))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Webhook.MinLevel) {
		add(fmt.Errorf("logging.webhook.min_level: unknown level %q", cfg.Logging.Webhook.MinLevel))
	}
	if cfg.Logging.Webhook.Enabled && strings.TrimSpace(cfg.Logging.Webhook.URL) == "" {
		add(fmt.Errorf("logging.webhook.url is required when logging.webhook.enabled=true"))
	}

	if a := cfg.Audit; a != nil {
		switch strings.ToLower(strings.TrimSpace(a.Driver)) {
		case "", "none", "file":
		case "kafka":
			if len(a.Brokers) == 0 || strings.TrimSpace(a.Topic) == "" {
				add(fmt.Errorf("audit.brokers and audit.topic are required when audit.driver=kafka"))
			}
		default:
			add(fmt.Errorf("unknown audit.driver: %s", a.Driver))
		}
	}

	return errors.Join(errs...)
}

func checkHTTPURL(path, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: expected an absolute http(s) URL, got %q", path, raw)
	}
	return nil
}
