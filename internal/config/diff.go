package config

import (
	"reflect"
	"strings"

	logx "hubrelay/pkg/logx"
)

// SummarizeConfigChange returns the list of changed sections and structured
// attrs safe for logging (secrets such as tokens and webhook URLs are reduced
// to "set" booleans or counts).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Int("server.max_inflight", newCfg.Server.MaxInflight),
		)
	}
	if oldCfg.Hub != newCfg.Hub {
		changed = append(changed, "hub")
		attrs = append(attrs,
			logx.String("hub.renew_every", strings.TrimSpace(newCfg.Hub.RenewEvery)),
			logx.Bool("hub.public_url_set", strings.TrimSpace(newCfg.Hub.PublicURL) != ""),
			logx.Bool("hub.disabled", newCfg.Hub.Disabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Int("sources.count", len(newCfg.Sources)))
	}
	if !reflect.DeepEqual(oldCfg.Routes, newCfg.Routes) {
		changed = append(changed, "routes")
		attrs = append(attrs,
			logx.Int("routes.count", len(newCfg.Routes)),
			logx.Any("routes.keywords", routeKeywords(newCfg.Routes)),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.timeout", newCfg.Delivery.Timeout),
			logx.String("delivery.pacing", newCfg.Delivery.Pacing),
			logx.Bool("delivery.no_pacing", newCfg.Delivery.NoPacing),
			logx.Any("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Bool("delivery.telegram_token_set", newCfg.Delivery.TelegramToken != ""),
		)
	}
	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs, logx.String("dedup.driver", newCfg.Dedup.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.webhook_enabled", newCfg.Logging.Webhook.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Audit, newCfg.Audit) {
		changed = append(changed, "audit")
		driver := ""
		if newCfg.Audit != nil {
			driver = newCfg.Audit.Driver
		}
		attrs = append(attrs, logx.String("audit.driver", driver))
	}
	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		attrs = append(attrs, logx.Int("admin.token_count", len(newCfg.Admin.Tokens)))
	}
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs, logx.Bool("pprof.enabled", newCfg.Pprof.Enabled))
	}
	return changed, attrs
}

func routeKeywords(rs []Route) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Keyword)
	}
	return out
}

// RestartRequired reports the changed sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "server", "dedup", "audit", "metrics", "pprof":
			out = append(out, s)
		}
	}
	return out
}
