package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	logx "hubrelay/pkg/logx"
)

// scripted replies with the next response in order, repeating the last one.
type scripted struct {
	mu     sync.Mutex
	steps  []func(w http.ResponseWriter)
	bodies [][]byte
}

func (s *scripted) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, b)
	i := min(len(s.bodies)-1, len(s.steps)-1)
	step := s.steps[i]
	s.mu.Unlock()
	step(w)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func limited(retryAfter string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}
}

func withBody(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func testConfig() Config {
	return Config{
		Timeout:           time.Second,
		DefaultRetryAfter: 10 * time.Millisecond,
		MaxRetryAfter:     50 * time.Millisecond,
	}
}

var videoMsg = Message{
	Title:    "VSPEED GLOVE STATION LIVE",
	URL:      "https://www.youtube.com/watch?v=abc123",
	ImageURL: "https://i.ytimg.com/vi/abc123/hqdefault.jpg",
}

func TestDeliverOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		steps     []func(w http.ResponseWriter)
		want      Outcome
		calls     int
		retried   bool
		wait      time.Duration
		detailMax int
	}{
		{name: "204", steps: []func(http.ResponseWriter){status(204)}, want: Delivered, calls: 1},
		{name: "200", steps: []func(http.ResponseWriter){status(200)}, want: Delivered, calls: 1},
		{name: "429 then ok", steps: []func(http.ResponseWriter){limited("0.02"), status(204)}, want: Delivered, calls: 2, retried: true},
		{name: "429 then 500", steps: []func(http.ResponseWriter){limited("0"), status(500)}, want: RetryFailed, calls: 2, retried: true},
		{name: "429 twice", steps: []func(http.ResponseWriter){limited("0")}, want: RetryFailed, calls: 2, retried: true},
		{name: "429 default wait", steps: []func(http.ResponseWriter){limited(""), status(204)}, want: Delivered, calls: 2, retried: true, wait: 10 * time.Millisecond},
		{name: "429 garbage header", steps: []func(http.ResponseWriter){limited("soon"), status(204)}, want: Delivered, calls: 2, retried: true, wait: 10 * time.Millisecond},
		{name: "429 capped wait", steps: []func(http.ResponseWriter){limited("3600"), status(204)}, want: Delivered, calls: 2, retried: true, wait: 50 * time.Millisecond},
		{name: "429 NaN header", steps: []func(http.ResponseWriter){limited("NaN"), status(204)}, want: Delivered, calls: 2, retried: true, wait: 10 * time.Millisecond},
		{name: "429 huge header", steps: []func(http.ResponseWriter){limited("1e300"), status(204)}, want: Delivered, calls: 2, retried: true, wait: 50 * time.Millisecond},
		{name: "404", steps: []func(http.ResponseWriter){withBody(404, `{"message": "Unknown Webhook", "code": 10015}`)}, want: TargetGone, calls: 1},
		{name: "500 long body", steps: []func(http.ResponseWriter){withBody(500, strings.Repeat("x", 500))}, want: TargetError, calls: 1, detailMax: detailLimit},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &scripted{steps: tt.steps}
			srv := httptest.NewServer(s)
			defer srv.Close()

			c := New(testConfig(), logx.Nop())
			a := c.Deliver(context.Background(), srv.URL+"/api/webhooks/1/token", videoMsg)
			if a.Outcome != tt.want {
				t.Fatalf("Outcome = %v, want %v (attempt %+v)", a.Outcome, tt.want, a)
			}
			if got := s.calls(); got != tt.calls {
				t.Fatalf("calls = %d, want %d", got, tt.calls)
			}
			if a.Retried != tt.retried {
				t.Fatalf("Retried = %v, want %v", a.Retried, tt.retried)
			}
			if tt.wait > 0 && a.Wait != tt.wait {
				t.Fatalf("Wait = %v, want %v", a.Wait, tt.wait)
			}
			if tt.detailMax > 0 && (a.Detail == "" || len(a.Detail) > tt.detailMax) {
				t.Fatalf("Detail length = %d, want 1..%d", len(a.Detail), tt.detailMax)
			}
		})
	}
}

func TestWebhookPayload(t *testing.T) {
	t.Parallel()
	s := &scripted{steps: []func(http.ResponseWriter){status(204)}}
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := New(testConfig(), logx.Nop())
	if a := c.Deliver(context.Background(), srv.URL, videoMsg); !a.OK() {
		t.Fatalf("Deliver: %+v", a)
	}

	var got struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
		Embeds    []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Color int    `json:"color"`
			Image struct {
				URL string `json:"url"`
			} `json:"image"`
		} `json:"embeds"`
	}
	if err := json.Unmarshal(s.bodies[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Username != DefaultUsername || got.AvatarURL != DefaultAvatarURL {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != videoMsg.Title || e.URL != videoMsg.URL || e.Color != 0x1E90FF || e.Image.URL != videoMsg.ImageURL {
		t.Fatalf("unexpected embed: %+v", e)
	}
}

func TestDeliverTransportErrors(t *testing.T) {
	t.Parallel()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(204)
	}))
	defer slow.Close()

	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := New(cfg, logx.Nop())

	if a := c.Deliver(context.Background(), closedURL, videoMsg); a.Outcome != TransportError || a.Err == nil {
		t.Fatalf("closed server: %+v", a)
	}
	start := time.Now()
	if a := c.Deliver(context.Background(), slow.URL, videoMsg); a.Outcome != TransportError {
		t.Fatalf("slow server: %+v", a)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("timeout not enforced, took %v", took)
	}
}

func TestDeliverBadTargets(t *testing.T) {
	t.Parallel()
	c := New(testConfig(), logx.Nop())
	if a := c.Deliver(context.Background(), "ftp://example.com/x", videoMsg); a.Outcome != TargetError || !errors.Is(a.Err, ErrBadTarget) {
		t.Fatalf("ftp target: %+v", a)
	}
	if a := c.Deliver(context.Background(), "tg://-100123", videoMsg); a.Outcome != TargetError || !errors.Is(a.Err, ErrTelegramDisabled) {
		t.Fatalf("tg target without token: %+v", a)
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw      string
		ok       bool
		telegram bool
		chat     int64
		thread   int
	}{
		{raw: "https://discord.com/api/webhooks/1/abc", ok: true},
		{raw: "http://localhost:9000/hook", ok: true},
		{raw: "tg://-1001234567890", ok: true, telegram: true, chat: -1001234567890},
		{raw: "tg://-1001234567890/42", ok: true, telegram: true, chat: -1001234567890, thread: 42},
		{raw: "tg://abc"},
		{raw: "tg://-100/x"},
		{raw: "https://"},
		{raw: "not a url"},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.raw)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseTarget(%q) err = %v, want ok=%v", tt.raw, err, tt.ok)
		}
		if !tt.ok {
			continue
		}
		if got.IsTelegram() != tt.telegram || got.ChatID != tt.chat || got.ThreadID != tt.thread {
			t.Fatalf("ParseTarget(%q) = %+v", tt.raw, got)
		}
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()
	got := Redacted("https://discord.com/api/webhooks/123/SECRETTOKEN")
	if strings.Contains(got, "SECRETTOKEN") {
		t.Fatalf("token leaked: %s", got)
	}
	if Redacted("tg://-100/3") != "tg://-100/3" {
		t.Fatalf("telegram target should be unchanged: %s", Redacted("tg://-100/3"))
	}
}

func TestCheckTargets(t *testing.T) {
	t.Parallel()
	ok := &scripted{steps: []func(http.ResponseWriter){status(204)}}
	gone := &scripted{steps: []func(http.ResponseWriter){status(404)}}
	s1, s2 := httptest.NewServer(ok), httptest.NewServer(gone)
	defer s1.Close()
	defer s2.Close()

	c := New(testConfig(), logx.Nop())
	res := c.CheckTargets(context.Background(), []string{s1.URL, s2.URL}, 5*time.Millisecond)
	if len(res) != 2 || res[0].Outcome != Delivered || res[1].Outcome != TargetGone {
		t.Fatalf("unexpected results: %+v", res)
	}
	var body struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal(ok.bodies[0], &body)
	if body.Content != TestMessage {
		t.Fatalf("content = %q", body.Content)
	}
}

func TestPerTargetRateLimit(t *testing.T) {
	t.Parallel()
	s := &scripted{steps: []func(http.ResponseWriter){status(204)}}
	srv := httptest.NewServer(s)
	defer srv.Close()

	cfg := testConfig()
	cfg.RatePerSec = 2
	c := New(cfg, logx.Nop())

	start := time.Now()
	for range 3 {
		if a := c.Deliver(context.Background(), srv.URL, videoMsg); !a.OK() {
			t.Fatalf("Deliver: %+v", a)
		}
	}
	if took := time.Since(start); took < 400*time.Millisecond {
		t.Fatalf("third send should wait for a token, took %v", took)
	}
}

func TestClassifyTelegramError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		kind resultKind
	}{
		{name: "flood", err: tele.FloodError{RetryAfter: 3}, kind: resRateLimited},
		{name: "chat not found", err: tele.ErrChatNotFound, kind: resGone},
		{name: "forbidden", err: &tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}, kind: resGone},
		{name: "server", err: &tele.Error{Code: 500, Description: "Internal Server Error"}, kind: resFailed},
		{name: "network", err: errors.New("dial tcp: connection refused"), kind: resTransport},
	}
	for _, tt := range tests {
		r := classifyTelegramError(tt.err)
		if r.kind != tt.kind {
			t.Fatalf("%s: kind = %v, want %v", tt.name, r.kind, tt.kind)
		}
	}
	if r := classifyTelegramError(tele.FloodError{RetryAfter: 3}); !r.hasRetryAfter || r.retryAfter != 3*time.Second {
		t.Fatalf("flood retry after = %v (%v)", r.retryAfter, r.hasRetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{in: "2", want: 2 * time.Second, ok: true},
		{in: " 0.5 ", want: 500 * time.Millisecond, ok: true},
		{in: ""},
		{in: "-1"},
		{in: "Wed, 21 Oct 2015 07:28:00 GMT"},
		{in: "NaN"},
		{in: "Inf"},
		{in: "+Inf"},
		{in: "-Inf"},
		{in: "1e300", want: time.Minute, ok: true},
		{in: "120", want: time.Minute, ok: true},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.in, time.Minute)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("parseRetryAfter(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 80, "short"},
		{"abcdef", 3, "abc"},
		{"ab\u00e9cd", 3, "ab"},
		{"\U0001F3AC\U0001F3AC", 5, "\U0001F3AC"},
		{"\u00e9", 1, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
