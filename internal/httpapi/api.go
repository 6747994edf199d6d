// Package httpapi is the relay's HTTP surface: the hub callback, health,
// metrics and the token-gated admin endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"hubrelay/internal/delivery"
	"hubrelay/internal/feed"
	"hubrelay/internal/hub"
	"hubrelay/internal/metrics"
	"hubrelay/internal/observability/pprof"
	"hubrelay/internal/processor"
	"hubrelay/internal/routes"
	"hubrelay/internal/runtime/supervisor"
	logx "hubrelay/pkg/logx"
)

type Config struct {
	CallbackPath string
	Banner       string
	MaxBodyBytes int64
	MetricsPath  string // empty disables /metrics
	Pprof        pprof.Config
}

// Notifications is satisfied by *processor.Processor.
type Notifications interface {
	Handle(ctx context.Context, body []byte) (processor.Result, error)
	Verify(challenge string) (string, error)
}

type TargetChecker interface {
	CheckTargets(ctx context.Context, targets []string, pacing time.Duration) []delivery.Attempt
}

type Resubscriber interface {
	RenewAll(ctx context.Context) []hub.Subscription
}

type Deps struct {
	Notifications Notifications
	Routes        *routes.Table
	Sources       func() []hub.Source
	Checker       TargetChecker
	Resubscriber  Resubscriber
	Pacing        func() time.Duration
	DedupLen      func() int
	Supervisor    *supervisor.Supervisor
	Metrics       *metrics.Metrics
	Log           logx.Logger
}

type API struct {
	cfg     Config
	d       Deps
	log     logx.Logger
	tokens  atomic.Pointer[[]string]
	sup     atomic.Pointer[supervisor.Supervisor]
	started time.Time
	engine  *gin.Engine
}

func New(cfg Config, d Deps) *API {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/youtube-webhook"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{cfg: cfg, d: d, log: d.Log, started: time.Now()}
	a.SetAdminTokens(nil)
	a.SetSupervisor(d.Supervisor)

	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog())

	r.GET("/", a.banner)
	r.GET("/healthz", a.health)
	r.GET(cfg.CallbackPath, a.verify)
	r.POST(cfg.CallbackPath, a.notify)
	if cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(d.Metrics.Handler()))
	}

	admin := r.Group("/admin", a.requireToken)
	admin.GET("/routes", a.listRoutes)
	admin.GET("/sources", a.listSources)
	admin.POST("/check-targets", a.checkTargets)
	admin.POST("/resubscribe", a.resubscribe)
	if cfg.Pprof.Enabled {
		pprof.Register(admin, cfg.Pprof)
	}

	a.engine = r
	return a
}

func (a *API) Handler() http.Handler { return a.engine }

// SetAdminTokens replaces the accepted admin tokens. With none, /admin is closed.
func (a *API) SetAdminTokens(tokens []string) {
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	a.tokens.Store(&clean)
}

// SetSupervisor attaches the supervisor reported by /healthz.
func (a *API) SetSupervisor(s *supervisor.Supervisor) { a.sup.Store(s) }

func (a *API) banner(c *gin.Context) {
	b := a.cfg.Banner
	if b == "" {
		b = "hubrelay running"
	}
	c.String(http.StatusOK, b)
}

func (a *API) health(c *gin.Context) {
	out := gin.H{
		"status": "ok",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	}
	if a.d.Routes != nil {
		out["routes"] = a.d.Routes.Len()
	}
	if a.d.DedupLen != nil {
		out["dedup_ids"] = a.d.DedupLen()
	}
	if sup := a.sup.Load(); sup != nil {
		snap := sup.Snapshot()
		out["supervisor"] = snap
		if snap.FirstError != "" {
			out["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, out)
}

// verify answers the hub's subscription check by echoing hub.challenge.
func (a *API) verify(c *gin.Context) {
	challenge, err := a.d.Notifications.Verify(c.Query("hub.challenge"))
	if err != nil {
		c.String(http.StatusBadRequest, "missing hub.challenge")
		return
	}
	a.log.Info("hub verification",
		logx.String("mode", c.Query("hub.mode")),
		logx.String("topic", c.Query("hub.topic")),
		logx.String("lease", c.Query("hub.lease_seconds")),
	)
	c.String(http.StatusOK, challenge)
}

func (a *API) notify(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.d.Metrics.Notification("rejected_too_large")
			c.String(http.StatusRequestEntityTooLarge, "Too large")
			return
		}
		c.String(http.StatusBadRequest, "No data")
		return
	}

	res, err := a.d.Notifications.Handle(c.Request.Context(), body)
	var perr *feed.ParseError
	switch {
	case err == nil:
		a.log.Debug("notification handled",
			logx.String("batch", res.BatchID),
			logx.Int("events", len(res.Events)),
			logx.Int("attempts", res.Attempts()),
		)
		c.String(http.StatusOK, "OK")
	case errors.Is(err, processor.ErrEmptyBody):
		c.String(http.StatusBadRequest, "No data")
	case errors.As(err, &perr):
		c.String(http.StatusInternalServerError, "Error")
	default:
		// never started; the hub retries later
		c.String(http.StatusServiceUnavailable, "Busy")
	}
}

func (a *API) requireToken(c *gin.Context) {
	tokens := *a.tokens.Load()
	if len(tokens) == 0 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled: no tokens configured"})
		return
	}
	got := c.Query("token")
	if got == "" {
		got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	ok := got != "" && slices.ContainsFunc(tokens, func(t string) bool {
		return subtle.ConstantTimeCompare([]byte(t), []byte(got)) == 1
	})
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

type routeView struct {
	Keyword string `json:"keyword"`
	Target  string `json:"target"`
}

func (a *API) listRoutes(c *gin.Context) {
	var out []routeView
	if a.d.Routes != nil {
		for _, r := range a.d.Routes.Snapshot() {
			out = append(out, routeView{Keyword: r.Keyword, Target: delivery.Redacted(r.Target)})
		}
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

func (a *API) listSources(c *gin.Context) {
	var out []hub.Source
	if a.d.Sources != nil {
		out = a.d.Sources()
	}
	type sourceView struct {
		ChannelID string `json:"channel_id"`
		Name      string `json:"name,omitempty"`
		Topic     string `json:"topic"`
	}
	views := make([]sourceView, 0, len(out))
	for _, s := range out {
		views = append(views, sourceView{ChannelID: s.ChannelID, Name: s.Name, Topic: feed.TopicURL(s.ChannelID)})
	}
	c.JSON(http.StatusOK, gin.H{"sources": views})
}

type checkRequest struct {
	Targets []string `json:"targets"`
}

type checkView struct {
	Target   string   `json:"target"`
	Keywords []string `json:"keywords,omitempty"`
	Outcome  string   `json:"outcome"`
	Status   int      `json:"status,omitempty"`
	Retried  bool     `json:"retried,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// checkTargets posts a test message to every routed target (or the ones in
// the request body) and reports each outcome.
func (a *API) checkTargets(c *gin.Context) {
	if a.d.Checker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delivery not configured"})
		return
	}
	var req checkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	keywords := map[string][]string{}
	if a.d.Routes != nil {
		for _, r := range a.d.Routes.Snapshot() {
			keywords[r.Target] = append(keywords[r.Target], r.Keyword)
		}
		if len(req.Targets) == 0 {
			req.Targets = a.d.Routes.Targets()
		}
	}
	var pacing time.Duration
	if a.d.Pacing != nil {
		pacing = a.d.Pacing()
	}

	attempts := a.d.Checker.CheckTargets(c.Request.Context(), req.Targets, pacing)
	out := make([]checkView, 0, len(attempts))
	for _, at := range attempts {
		v := checkView{
			Target:   delivery.Redacted(at.Target),
			Keywords: keywords[at.Target],
			Outcome:  at.Outcome.String(),
			Status:   at.Status,
			Retried:  at.Retried,
			Detail:   at.Detail,
		}
		if at.Err != nil {
			v.Error = at.Err.Error()
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (a *API) resubscribe(c *gin.Context) {
	if a.d.Resubscriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "renewer not configured"})
		return
	}
	res := a.d.Resubscriber.RenewAll(c.Request.Context())
	if res == nil {
		c.JSON(http.StatusConflict, gin.H{"error": hub.ErrNoPublicURL.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": res})
}

// accessLog logs every request without its query string, which may carry
// the admin token or the hub challenge.
func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			a.log.Warn("http request", fields...)
			return
		}
		a.log.Debug("http request", fields...)
	}
}
