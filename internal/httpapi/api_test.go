package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"hubrelay/internal/dedup"
	"hubrelay/internal/delivery"
	"hubrelay/internal/hub"
	"hubrelay/internal/metrics"
	"hubrelay/internal/processor"
	"hubrelay/internal/routes"
	logx "hubrelay/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <title>YouTube video feed</title>
  <entry>
    <id>yt:video:abc123</id>
    <yt:videoId>abc123</yt:videoId>
    <yt:channelId>UCvspeed</yt:channelId>
    <title>VSPEED GLOVE STATION LIVE</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123"/>
    <published>2026-10-17T08:59:00+00:00</published>
  </entry>
</feed>`

type sink struct {
	mu    sync.Mutex
	calls []string
}

func (s *sink) Deliver(ctx context.Context, target string, msg delivery.Message) delivery.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target)
	return delivery.Attempt{Target: target, Outcome: delivery.Delivered}
}

func (s *sink) CheckTargets(ctx context.Context, targets []string, pacing time.Duration) []delivery.Attempt {
	out := make([]delivery.Attempt, 0, len(targets))
	for _, t := range targets {
		o := delivery.Delivered
		if strings.Contains(t, "gone") {
			o = delivery.TargetGone
		}
		out = append(out, delivery.Attempt{Target: t, Outcome: o, Status: 204})
	}
	return out
}

type renewer struct{ report []hub.Subscription }

func (r renewer) RenewAll(ctx context.Context) []hub.Subscription { return r.report }

type env struct {
	api   *API
	store dedup.Store
	sink  *sink
}

func newEnv(t *testing.T, cfg Config, mutate func(*Deps)) *env {
	t.Helper()
	st, err := dedup.Open(context.Background(), dedup.Config{Path: filepath.Join(t.TempDir(), "posted.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("dedup.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := &sink{}
	table := routes.New([]routes.Route{
		{Keyword: "GLOVE STATION", Target: "https://discord.com/api/webhooks/1/glovesecret"},
		{Keyword: "SPEEDRUN", Target: "https://discord.com/api/webhooks/2/gonesecret"},
	})
	m := metrics.New(st.Len)
	d := Deps{
		Notifications: processor.New(processor.Config{MaxInflight: 2}, processor.Deps{Store: st, Routes: table, Deliverer: s, Metrics: m}),
		Routes:        table,
		Sources:       func() []hub.Source { return []hub.Source{{ChannelID: "UCvspeed", Name: "VSPEED"}} },
		Checker:       s,
		Resubscriber:  renewer{report: []hub.Subscription{{ChannelID: "UCvspeed", OK: true}}},
		DedupLen:      st.Len,
		Metrics:       m,
	}
	if mutate != nil {
		mutate(&d)
	}
	return &env{api: New(cfg, d), store: st, sink: s}
}

func (e *env) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestVerificationEchoesChallenge(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)

	rec := e.do(http.MethodGet, "/youtube-webhook?hub.mode=subscribe&hub.topic=x&hub.challenge=c4ll%2Bng3", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "c4ll+ng3" {
		t.Fatalf("verify: %d %q", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodGet, "/youtube-webhook", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing challenge: %d", rec.Code)
	}
	if e.store.Len() != 0 {
		t.Fatalf("verification touched the dedup store")
	}
}

func TestNotificationStatuses(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)

	if rec := e.do(http.MethodPost, "/youtube-webhook", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body: %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/youtube-webhook", "definitely not xml"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("malformed body: %d", rec.Code)
	}
	if e.store.Len() != 0 {
		t.Fatalf("rejected notifications mutated the store")
	}

	rec := e.do(http.MethodPost, "/youtube-webhook", sample, "Content-Type", "application/atom+xml")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("valid body: %d %q", rec.Code, rec.Body.String())
	}
	if ok, _ := e.store.Contains(context.Background(), "abc123"); !ok {
		t.Fatalf("abc123 not committed")
	}
	rec = e.do(http.MethodPost, "/youtube-webhook", sample)
	if rec.Code != http.StatusOK || len(e.sink.calls) != 1 {
		t.Fatalf("resubmission: %d, deliveries=%d", rec.Code, len(e.sink.calls))
	}
}

func TestNotificationTooLarge(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MaxBodyBytes: 64}, nil)
	if rec := e.do(http.MethodPost, "/youtube-webhook", sample); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: %d", rec.Code)
	}
}

type busy struct{}

func (busy) Handle(ctx context.Context, body []byte) (processor.Result, error) {
	return processor.Result{}, context.Canceled
}
func (busy) Verify(c string) (string, error) { return c, nil }

func TestNotificationBusy(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, func(d *Deps) { d.Notifications = busy{} })
	if rec := e.do(http.MethodPost, "/youtube-webhook", sample); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("busy: %d", rec.Code)
	}
}

func TestCustomCallbackPath(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{CallbackPath: "/hooks/yt"}, nil)
	if rec := e.do(http.MethodGet, "/hooks/yt?hub.challenge=x", ""); rec.Code != http.StatusOK {
		t.Fatalf("custom path: %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/youtube-webhook?hub.challenge=x", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("default path still mounted: %d", rec.Code)
	}
}

func TestBannerAndHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{Banner: "relay up"}, nil)
	if rec := e.do(http.MethodGet, "/", ""); rec.Code != http.StatusOK || rec.Body.String() != "relay up" {
		t.Fatalf("banner: %d %q", rec.Code, rec.Body.String())
	}
	rec := e.do(http.MethodGet, "/healthz", "")
	var h struct {
		Status   string `json:"status"`
		Routes   int    `json:"routes"`
		DedupIDs int    `json:"dedup_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("healthz not JSON: %v", err)
	}
	if h.Status != "ok" || h.Routes != 2 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{MetricsPath: "/metrics"}, nil)
	e.do(http.MethodPost, "/youtube-webhook", sample)
	rec := e.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `hubrelay_deliveries_total{outcome="delivered"} 1`) {
		t.Fatalf("metrics: %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)

	if rec := e.do(http.MethodGet, "/admin/routes", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("no tokens configured: %d", rec.Code)
	}
	e.api.SetAdminTokens([]string{" s3cret ", ""})
	if rec := e.do(http.MethodGet, "/admin/routes", "", "Authorization", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/admin/routes?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}
	rec := e.do(http.MethodGet, "/admin/routes", "", "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "glovesecret") || !strings.Contains(rec.Body.String(), "GLOVE STATION") {
		t.Fatalf("routes listing: %s", rec.Body.String())
	}
}

func TestAdminSourcesAndResubscribe(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)
	e.api.SetAdminTokens([]string{"tok"})

	rec := e.do(http.MethodGet, "/admin/sources?token=tok", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "channel_id=UCvspeed") {
		t.Fatalf("sources: %d %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(http.MethodPost, "/admin/resubscribe?token=tok", ""); rec.Code != http.StatusOK {
		t.Fatalf("resubscribe: %d", rec.Code)
	}

	e = newEnv(t, Config{}, func(d *Deps) { d.Resubscriber = renewer{} })
	e.api.SetAdminTokens([]string{"tok"})
	if rec := e.do(http.MethodPost, "/admin/resubscribe?token=tok", ""); rec.Code != http.StatusConflict {
		t.Fatalf("resubscribe without public url: %d", rec.Code)
	}
}

func TestAdminCheckTargets(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)
	e.api.SetAdminTokens([]string{"tok"})

	rec := e.do(http.MethodPost, "/admin/check-targets", "", "Authorization", "Bearer tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("check-targets: %d", rec.Code)
	}
	var out struct {
		Results []checkView `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 || out.Results[0].Outcome != "delivered" || out.Results[1].Outcome != "target_gone" {
		t.Fatalf("results: %+v", out.Results)
	}
	if out.Results[1].Keywords[0] != "SPEEDRUN" || strings.Contains(out.Results[1].Target, "gonesecret") {
		t.Fatalf("result view: %+v", out.Results[1])
	}

	rec = e.do(http.MethodPost, "/admin/check-targets", `{"targets":["https://example.com/hook"]}`,
		"Authorization", "Bearer tok", "Content-Type", "application/json")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "example.com") {
		t.Fatalf("explicit targets: %d %s", rec.Code, rec.Body.String())
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{}, nil)
	srv, err := Listen("127.0.0.1:0", e.api.Handler(), 5*time.Second, 5*time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
