package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type webhookPayload struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title string      `json:"title"`
	URL   string      `json:"url,omitempty"`
	Color int         `json:"color"`
	Image *embedImage `json:"image,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

func buildWebhookPayload(cfg Config, msg Message) webhookPayload {
	p := webhookPayload{
		Content:   msg.Content,
		Username:  cfg.Username,
		AvatarURL: cfg.AvatarURL,
	}
	if msg.Title != "" || msg.URL != "" {
		e := embed{Title: msg.Title, URL: msg.URL, Color: cfg.Color}
		if msg.ImageURL != "" {
			e.Image = &embedImage{URL: msg.ImageURL}
		}
		p.Embeds = []embed{e}
	}
	return p
}

type webhookSender struct {
	http *http.Client
}

func (w *webhookSender) send(ctx context.Context, cfg Config, t Target, msg Message) result {
	body, err := json.Marshal(buildWebhookPayload(cfg, msg))
	if err != nil {
		return result{kind: resFailed, err: fmt.Errorf("encode payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Raw, bytes.NewReader(body))
	if err != nil {
		return result{kind: resFailed, err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return result{kind: resTransport, err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	r := result{status: resp.StatusCode}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.kind = resOK
	case resp.StatusCode == http.StatusTooManyRequests:
		r.kind = resRateLimited
		r.retryAfter, r.hasRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), cfg.MaxRetryAfter)
	case resp.StatusCode == http.StatusNotFound:
		r.kind = resGone
		r.detail = truncate(string(raw), detailLimit)
	default:
		r.kind = resFailed
		r.detail = truncate(string(raw), detailLimit)
	}
	return r
}

// parseRetryAfter accepts delay-seconds, fractional seconds included.
// Values above ceiling are clamped to it; NaN and Inf are unparseable.
func parseRetryAfter(v string, ceiling time.Duration) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	if ceiling > 0 {
		secs = min(secs, ceiling.Seconds())
	}
	return time.Duration(secs * float64(time.Second)), true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
