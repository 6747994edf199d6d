package config

import (
	"slices"
	"strings"
)

// Environment variables that override or extend the file.
const (
	EnvPublicURL     = "PUBLIC_URL"
	EnvAdminTokens   = "ADMIN_TOKENS"
	EnvPort          = "PORT"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvDedupPath     = "HUBRELAY_DEDUP_PATH"
)

// ApplyEnv overlays environment-provided settings onto cfg.
// Empty variables leave the file values untouched; ADMIN_TOKENS is merged.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvPublicURL)); v != "" {
		cfg.Hub.PublicURL = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Delivery.TelegramToken = v
	}
	if v := strings.TrimSpace(getenv(EnvDedupPath)); v != "" {
		cfg.Dedup.Path = v
	}
	for _, tok := range strings.Split(getenv(EnvAdminTokens), ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" && !slices.Contains(cfg.Admin.Tokens, tok) {
			cfg.Admin.Tokens = append(cfg.Admin.Tokens, tok)
		}
	}
}
