package config

import "time"

const (
	DefaultAddr          = ":5000"
	DefaultCallbackPath  = "/youtube-webhook"
	DefaultMaxInflight   = 8
	DefaultMaxBodyBytes  = 1 << 20
	DefaultHubURL        = "https://pubsubhubbub.appspot.com/subscribe"
	DefaultRenewEvery    = 30 * 24 * time.Hour
	DefaultHubTimeout    = 10 * time.Second
	DefaultDeliveryTO    = 10 * time.Second
	DefaultPacing        = time.Second
	DefaultRetryAfter    = 2 * time.Second
	DefaultMaxRetryAfter = 60 * time.Second
	DefaultDedupDriver   = "file"
	DefaultDedupPath     = "/data/posted_videos.json"
	DefaultDedupMaxBytes = 1_000_000
	DefaultKeepRecent    = 1000
	DefaultMetricsPath   = "/metrics"
	DefaultPprofPrefix   = "/debug/pprof"
	DefaultBanner        = "✅ VSPEED YouTube → Discord (PubSubHubbub) Running"
)
