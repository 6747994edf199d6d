package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	logx "hubrelay/pkg/logx"
)

type resultKind int

const (
	resOK resultKind = iota
	resRateLimited
	resGone
	resFailed
	resTransport
)

// result is one raw send, before retry handling.
type result struct {
	kind          resultKind
	status        int
	retryAfter    time.Duration
	hasRetryAfter bool
	detail        string
	err           error
}

type sender interface {
	send(ctx context.Context, cfg Config, t Target, msg Message) result
}

var ErrTelegramDisabled = errors.New("delivery: telegram target but no bot token configured")

// Client is safe for concurrent use. Waiting on a rate limit only blocks the
// calling goroutine.
type Client struct {
	log  logx.Logger
	http *http.Client

	mu       sync.RWMutex
	cfg      Config
	limiter  *limiter
	webhook  sender
	telegram sender
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	// Per-send deadlines come from the request context; the client has none of its own.
	hc := &http.Client{}
	c := &Client{log: log, http: hc, webhook: &webhookSender{http: hc}}
	c.Apply(cfg)
	return c
}

// Apply swaps configuration. In-flight deliveries finish with the old settings.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	var tg sender
	if cfg.TelegramToken != "" {
		s, err := newTelegramSender(cfg, c.http)
		if err != nil {
			c.log.Warn("telegram sender init failed; tg:// targets disabled", logx.Err(err))
		} else {
			tg = s
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiter == nil || c.cfg.RatePerSec != cfg.RatePerSec {
		c.limiter = newLimiter(cfg.RatePerSec)
	}
	c.cfg = cfg
	c.telegram = tg
}

func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Client) state() (Config, *limiter, sender, sender) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.limiter, c.webhook, c.telegram
}

// Deliver sends msg to target and reports the outcome. It never returns an
// error; every failure is described by the Attempt.
func (c *Client) Deliver(ctx context.Context, target string, msg Message) Attempt {
	start := time.Now()
	a := c.deliver(ctx, target, msg)
	a.Target = target
	a.Took = time.Since(start)
	return a
}

func (c *Client) deliver(ctx context.Context, target string, msg Message) Attempt {
	t, err := ParseTarget(target)
	if err != nil {
		return Attempt{Outcome: TargetError, Err: err}
	}
	cfg, lim, webhook, telegram := c.state()

	snd := webhook
	if t.IsTelegram() {
		if telegram == nil {
			return Attempt{Outcome: TargetError, Err: ErrTelegramDisabled}
		}
		snd = telegram
	}

	if err := lim.wait(ctx, t.Raw); err != nil {
		return Attempt{Outcome: TransportError, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	r := c.sendOnce(ctx, cfg, snd, t, msg)
	if r.kind != resRateLimited {
		return attemptFrom(r)
	}

	wait := cfg.DefaultRetryAfter
	if r.hasRetryAfter {
		wait = r.retryAfter
	}
	wait = max(0, min(wait, cfg.MaxRetryAfter))
	c.log.Debug("rate limited; retrying once",
		logx.String("target", Redacted(target)),
		logx.Duration("wait", wait),
	)
	if err := sleep(ctx, wait); err != nil {
		return Attempt{Outcome: RetryFailed, Status: r.status, Retried: true, Wait: wait, Err: err}
	}

	r2 := c.sendOnce(ctx, cfg, snd, t, msg)
	a := attemptFrom(r2)
	a.Retried = true
	a.Wait = wait
	if a.Outcome != Delivered {
		a.Outcome = RetryFailed
	}
	return a
}

func (c *Client) sendOnce(ctx context.Context, cfg Config, snd sender, t Target, msg Message) result {
	sctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return snd.send(sctx, cfg, t, msg)
}

func attemptFrom(r result) Attempt {
	a := Attempt{Status: r.status, Detail: r.detail, Err: r.err}
	switch r.kind {
	case resOK:
		a.Outcome = Delivered
	case resGone:
		a.Outcome = TargetGone
	case resTransport:
		a.Outcome = TransportError
	case resRateLimited:
		// only reachable for a second rate-limited response
		a.Outcome = RetryFailed
	default:
		a.Outcome = TargetError
	}
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep waits for d or until ctx is done. Exposed for callers that pace sends.
func Sleep(ctx context.Context, d time.Duration) error { return sleep(ctx, d) }
