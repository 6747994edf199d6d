package delivery

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type targetKind int

const (
	kindWebhook targetKind = iota
	kindTelegram
)

// Target is a parsed route target.
type Target struct {
	Raw      string
	kind     targetKind
	ChatID   int64
	ThreadID int
}

var ErrBadTarget = errors.New("delivery: invalid target")

// ParseTarget accepts http(s) webhook URLs and tg://<chat_id>[/<thread_id>].
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrBadTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return Target{}, fmt.Errorf("%w: missing host", ErrBadTarget)
		}
		return Target{Raw: raw, kind: kindWebhook}, nil
	case "tg", "telegram":
		chatID, err := strconv.ParseInt(u.Host, 10, 64)
		if err != nil || chatID == 0 {
			return Target{}, fmt.Errorf("%w: bad chat id %q", ErrBadTarget, u.Host)
		}
		t := Target{Raw: raw, kind: kindTelegram, ChatID: chatID}
		if p := strings.Trim(u.Path, "/"); p != "" {
			thread, err := strconv.Atoi(p)
			if err != nil || thread < 0 {
				return Target{}, fmt.Errorf("%w: bad thread id %q", ErrBadTarget, p)
			}
			t.ThreadID = thread
		}
		return t, nil
	default:
		return Target{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadTarget, u.Scheme)
	}
}

func (t Target) IsTelegram() bool { return t.kind == kindTelegram }

// Redacted hides webhook tokens so targets can be logged.
func Redacted(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "<invalid>"
	}
	if u.Scheme == "tg" || u.Scheme == "telegram" {
		return u.String()
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if n := len(parts); n > 0 && len(parts[n-1]) > 6 {
		parts[n-1] = parts[n-1][:3] + "…"
	}
	return u.Scheme + "://" + u.Host + "/" + strings.Join(parts, "/")
}
