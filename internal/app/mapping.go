package app

import (
	"errors"
	"fmt"
	"strings"

	"hubrelay/internal/audit"
	"hubrelay/internal/config"
	"hubrelay/internal/dedup"
	"hubrelay/internal/delivery"
	"hubrelay/internal/httpapi"
	"hubrelay/internal/hub"
	"hubrelay/internal/observability/pprof"
	"hubrelay/internal/processor"
	"hubrelay/internal/routes"
	logx "hubrelay/pkg/logx"
)

// The map* helpers turn the on-disk config into component configs. They are
// also run by the reload validator, so a file that cannot be mapped is
// rejected before it is committed.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Webhook: logx.WebhookConfig{
			Enabled:    cfg.Logging.Webhook.Enabled,
			MinLevel:   cfg.Logging.Webhook.MinLevel,
			RatePerSec: cfg.Logging.Webhook.RatePerSec,
		},
	}
}

func mapDedup(cfg *config.Config) (dedup.Config, error) {
	d := cfg.Dedup
	busy, err := config.ParseDurationField("dedup.busy_timeout", d.BusyTimeout)
	if err != nil {
		return dedup.Config{}, err
	}
	ttl, err := config.ParseDurationField("dedup.redis.cache_ttl", d.Redis.CacheTTL)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{
		Driver:      d.Driver,
		Path:        d.Path,
		MaxBytes:    d.MaxBytes,
		KeepRecent:  d.KeepRecent,
		BusyTimeout: busy,
		Redis: dedup.RedisConfig{
			Addr:     d.Redis.Addr,
			Password: d.Redis.Password,
			DB:       d.Redis.DB,
			Key:      d.Redis.Key,
			CacheTTL: ttl,
		},
		S3: dedup.S3Config{
			Bucket:       d.S3.Bucket,
			Key:          d.S3.Key,
			Region:       d.S3.Region,
			Endpoint:     d.S3.Endpoint,
			UsePathStyle: d.S3.UsePathStyle,
		},
	}, nil
}

func mapDelivery(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", d.Timeout, config.DefaultDeliveryTO)
	if err != nil {
		return delivery.Config{}, err
	}
	retry, err := config.ParseDurationOrDefault("delivery.default_retry_after", d.DefaultRetryAfter, config.DefaultRetryAfter)
	if err != nil {
		return delivery.Config{}, err
	}
	maxRetry, err := config.ParseDurationOrDefault("delivery.max_retry_after", d.MaxRetryAfter, config.DefaultMaxRetryAfter)
	if err != nil {
		return delivery.Config{}, err
	}
	if maxRetry < retry {
		return delivery.Config{}, fmt.Errorf("delivery.max_retry_after (%s) must be >= delivery.default_retry_after (%s)", maxRetry, retry)
	}
	return delivery.Config{
		Timeout:           timeout,
		DefaultRetryAfter: retry,
		MaxRetryAfter:     maxRetry,
		RatePerSec:        d.RatePerSec,
		Username:          d.Username,
		AvatarURL:         d.AvatarURL,
		Color:             d.Color,
		TelegramToken:     d.TelegramToken,
	}, nil
}

func mapPacing(cfg *config.Config) (processor.Config, error) {
	if cfg.Delivery.NoPacing {
		return processor.Config{MaxInflight: maxInflight(cfg)}, nil
	}
	pacing, err := config.ParseDurationOrDefault("delivery.pacing", cfg.Delivery.Pacing, config.DefaultPacing)
	if err != nil {
		return processor.Config{}, err
	}
	return processor.Config{Pacing: pacing, MaxInflight: maxInflight(cfg)}, nil
}

func maxInflight(cfg *config.Config) int {
	if cfg.Server.MaxInflight > 0 {
		return cfg.Server.MaxInflight
	}
	return config.DefaultMaxInflight
}

func mapRoutes(cfg *config.Config) []routes.Route {
	out := make([]routes.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		out = append(out, routes.Route{Keyword: r.Keyword, Target: strings.TrimSpace(r.Target)})
	}
	return out
}

// checkTargets rejects routes (and the ops log webhook) whose target cannot
// be parsed, and tg:// targets when no bot token is configured.
func checkTargets(cfg *config.Config) error {
	var errs []error
	check := func(path, raw string) {
		t, err := delivery.ParseTarget(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		if t.IsTelegram() && strings.TrimSpace(cfg.Delivery.TelegramToken) == "" {
			errs = append(errs, fmt.Errorf("%s: %w", path, delivery.ErrTelegramDisabled))
		}
	}
	for i, r := range cfg.Routes {
		if strings.TrimSpace(r.Target) != "" {
			check(fmt.Sprintf("routes[%d].target", i), r.Target)
		}
	}
	if w := cfg.Logging.Webhook; w.Enabled && strings.TrimSpace(w.URL) != "" {
		check("logging.webhook.url", w.URL)
	}
	return errors.Join(errs...)
}

func mapHub(cfg *config.Config) (hub.Settings, error) {
	timeout, err := config.ParseDurationOrDefault("hub.timeout", cfg.Hub.Timeout, config.DefaultHubTimeout)
	if err != nil {
		return hub.Settings{}, err
	}
	hubURL := strings.TrimSpace(cfg.Hub.URL)
	if hubURL == "" {
		hubURL = config.DefaultHubURL
	}
	st := hub.Settings{
		Hub: hub.Config{
			HubURL:       hubURL,
			PublicURL:    cfg.Hub.PublicURL,
			CallbackPath: callbackPath(cfg),
			Timeout:      timeout,
			LeaseSeconds: cfg.Hub.LeaseSeconds,
		},
		Sources: make([]hub.Source, 0, len(cfg.Sources)),
	}
	for _, s := range cfg.Sources {
		st.Sources = append(st.Sources, hub.Source{ChannelID: strings.TrimSpace(s.ChannelID), Name: s.Name})
	}
	return st, nil
}

func renewSpec(cfg *config.Config) (string, error) {
	return config.ParseScheduleSpec("hub.renew_every", cfg.Hub.RenewEvery, config.DefaultRenewEvery)
}

func callbackPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Server.CallbackPath); p != "" {
		return p
	}
	return config.DefaultCallbackPath
}

// mapAudit reports enabled=false when no audit section is present or the
// driver is "none".
func mapAudit(cfg *config.Config) (audit.Config, bool) {
	a := cfg.Audit
	if a == nil || strings.EqualFold(strings.TrimSpace(a.Driver), "none") {
		return audit.Config{}, false
	}
	return audit.Config{
		Driver:  a.Driver,
		Path:    a.Path,
		Brokers: a.Brokers,
		Topic:   a.Topic,
		Buffer:  a.Buffer,
	}, true
}

func mapPprof(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	prefix := p.Prefix
	if strings.TrimSpace(prefix) == "" {
		prefix = config.DefaultPprofPrefix
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Prefix:               prefix,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

func mapHTTP(cfg *config.Config) httpapi.Config {
	out := httpapi.Config{
		CallbackPath: callbackPath(cfg),
		Banner:       cfg.Server.Banner,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Pprof:        mapPprof(cfg),
	}
	if out.Banner == "" {
		out.Banner = config.DefaultBanner
	}
	if out.MaxBodyBytes <= 0 {
		out.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if cfg.Metrics.Enabled {
		out.MetricsPath = cfg.Metrics.Path
		if strings.TrimSpace(out.MetricsPath) == "" {
			out.MetricsPath = config.DefaultMetricsPath
		}
	}
	return out
}

// validate is installed as the config manager's validator.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if err := checkTargets(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDelivery(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDedup(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapPacing(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHub(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
