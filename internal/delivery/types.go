// Package delivery posts video announcements to chat targets.
//
// A target is either an http(s) chat webhook (Discord-compatible JSON body)
// or a Telegram chat written as "tg://<chat_id>[/<thread_id>]". Every send is
// bounded by its own timeout. A rate-limited response is retried exactly once
// after the server-provided delay; nothing else is retried.
package delivery

import (
	"encoding/json"
	"time"
)

type Outcome int

const (
	Delivered Outcome = iota
	RetryFailed
	TargetGone
	TargetError
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RetryFailed:
		return "retry_failed"
	case TargetGone:
		return "target_gone"
	case TargetError:
		return "target_error"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

// Message is what gets rendered for a target. Title/URL/ImageURL produce a
// rich embed; Content is sent as plain text (tests and ops log lines).
type Message struct {
	Title    string
	URL      string
	ImageURL string
	Content  string
}

// Attempt records one delivery (including its rate-limit retry, if any).
type Attempt struct {
	Target  string        `json:"target"`
	Outcome Outcome       `json:"outcome"`
	Status  int           `json:"status,omitempty"`
	Retried bool          `json:"retried,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Err     error         `json:"-"`
	Took    time.Duration `json:"took"`
}

func (a Attempt) OK() bool { return a.Outcome == Delivered }

// Config is applied live through Client.Apply.
type Config struct {
	Timeout           time.Duration
	DefaultRetryAfter time.Duration
	MaxRetryAfter     time.Duration

	// RatePerSec > 0 enables a token bucket per target shared by all callers.
	RatePerSec float64

	Username  string
	AvatarURL string
	Color     int

	TelegramToken string
	// TelegramAPI overrides the Bot API base URL (tests).
	TelegramAPI string
}

const (
	DefaultUsername  = "VSPEED 🎬 Broadcast Link"
	DefaultAvatarURL = "https://www.svgrepo.com/show/355037/youtube.svg"
	DefaultColor     = 0x1E90FF

	defaultTimeout       = 10 * time.Second
	defaultRetryAfter    = 2 * time.Second
	defaultMaxRetryAfter = 60 * time.Second

	// Diagnostic bodies are cut to this many bytes.
	detailLimit = 80
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = defaultRetryAfter
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = defaultMaxRetryAfter
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.AvatarURL == "" {
		c.AvatarURL = DefaultAvatarURL
	}
	if c.Color == 0 {
		c.Color = DefaultColor
	}
	return c
}
