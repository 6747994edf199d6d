// Package processor turns a verified hub notification into deliveries.
//
// For every entry, in document order:
//
//	already committed  -> skipped
//	no keyword matches -> unrouted (not committed, so a later route edit can still match it)
//	otherwise          -> delivered to each match, then committed once whatever the outcomes
//
// Deliveries within a batch are paced. A batch is never failed because a
// delivery failed; only an empty or unparsable body is rejected.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hubrelay/internal/dedup"
	"hubrelay/internal/delivery"
	"hubrelay/internal/eventbus"
	"hubrelay/internal/feed"
	"hubrelay/internal/metrics"
	"hubrelay/internal/routes"
	logx "hubrelay/pkg/logx"
)

var (
	ErrEmptyBody        = errors.New("processor: empty notification body")
	ErrMissingChallenge = errors.New("processor: missing hub.challenge")
)

// Deliverer is satisfied by *delivery.Client.
type Deliverer interface {
	Deliver(ctx context.Context, target string, msg delivery.Message) delivery.Attempt
}

type Config struct {
	// Pacing is the pause between two successive deliveries of one batch.
	Pacing time.Duration
	// MaxInflight bounds how many batches are processed at once.
	MaxInflight int
}

type Deps struct {
	Store     dedup.Store
	Routes    *routes.Table
	Deliverer Deliverer
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Log       logx.Logger
}

type Processor struct {
	store   dedup.Store
	routes  *routes.Table
	deliver Deliverer
	locks   *dedup.KeyLock
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	sem    chan struct{}
	pacing atomic.Int64
}

func New(cfg Config, d Deps) *Processor {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	p := &Processor{
		store:   d.Store,
		routes:  d.Routes,
		deliver: d.Deliverer,
		locks:   dedup.NewKeyLock(),
		bus:     d.Bus,
		metrics: d.Metrics,
		log:     d.Log,
		sem:     make(chan struct{}, max(1, cfg.MaxInflight)),
	}
	p.SetPacing(cfg.Pacing)
	return p
}

// SetPacing changes the inter-delivery pause for batches started afterwards.
func (p *Processor) SetPacing(d time.Duration) { p.pacing.Store(int64(max(0, d))) }

func (p *Processor) Pacing() time.Duration { return time.Duration(p.pacing.Load()) }

// Verify answers a subscription verification by echoing the challenge
// unchanged. Nothing else is consulted or mutated.
func (p *Processor) Verify(challenge string) (string, error) {
	if challenge == "" {
		return "", ErrMissingChallenge
	}
	return challenge, nil
}

// Handle processes one notification body. It returns ErrEmptyBody or a
// *feed.ParseError without touching any state; a context error means the
// batch was never started because ctx ended while waiting for a slot.
// Otherwise the batch is complete and acknowledged, whatever the delivery
// outcomes in the Result.
func (p *Processor) Handle(ctx context.Context, body []byte) (Result, error) {
	res := Result{BatchID: uuid.NewString()}
	log := p.log.With(logx.String("batch", res.BatchID))

	if len(bytes.TrimSpace(body)) == 0 {
		p.reject(res.BatchID, "empty_body", ErrEmptyBody)
		return res, ErrEmptyBody
	}
	batch, err := feed.Parse(body)
	if err != nil {
		log.Warn("notification rejected", logx.Err(err), logx.Int("bytes", len(body)))
		p.reject(res.BatchID, "parse_error", err)
		return res, err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.reject(res.BatchID, "canceled", ctx.Err())
		return res, fmt.Errorf("waiting for a processing slot: %w", ctx.Err())
	}
	defer func() { <-p.sem }()
	p.metrics.Inflight(1)
	defer p.metrics.Inflight(-1)

	// A hub disconnect must not abort a half-delivered batch.
	ctx = context.WithoutCancel(ctx)

	p.metrics.Notification("accepted")
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchAccepted, Data: eventbus.BatchData{BatchID: res.BatchID, Entries: batch.Len()}})
	log.Debug("notification accepted", logx.Int("entries", batch.Len()))

	b := &batchRun{p: p, id: res.BatchID, log: log, pacing: p.Pacing()}
	for ev := range batch.Events() {
		res.Events = append(res.Events, b.process(ctx, ev))
	}
	return res, nil
}

func (p *Processor) reject(batchID, reason string, err error) {
	p.metrics.Notification("rejected_" + reason)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchRejected, Data: eventbus.BatchData{BatchID: batchID, Reason: err.Error()}})
}

// batchRun carries per-batch pacing state.
type batchRun struct {
	p      *Processor
	id     string
	log    logx.Logger
	pacing time.Duration
	sent   int
}

func (b *batchRun) process(ctx context.Context, ev feed.Event) EventResult {
	p := b.p
	out := EventResult{Event: ev}
	log := b.log.With(logx.String("video", ev.ID))

	unlock := p.locks.Lock(ev.ID)
	defer unlock()

	seen, err := p.store.Contains(ctx, ev.ID)
	if err != nil {
		// Prefer a possible duplicate over a lost announcement.
		log.Error("dedup lookup failed; treating as new", logx.Err(err))
	}
	if seen {
		out.Status = Skipped
		p.metrics.Event(out.Status.String())
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeEventSkipped, Data: b.eventData(ev, 0, nil)})
		log.Debug("already relayed")
		return out
	}

	matches := p.routes.Match(ev.Title)
	if len(matches) == 0 {
		out.Status = Unrouted
		p.metrics.Event(out.Status.String())
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeEventUnrouted, Data: b.eventData(ev, 0, nil)})
		log.Info("no route for title", logx.String("title", ev.Title))
		return out
	}

	out.Status = Routed
	msg := delivery.Message{Title: ev.Title, URL: ev.URL, ImageURL: ev.ThumbnailURL}
	for _, m := range matches {
		if b.sent > 0 {
			_ = delivery.Sleep(ctx, b.pacing)
		}
		b.sent++
		a := p.deliver.Deliver(ctx, m.Target, msg)
		out.Attempts = append(out.Attempts, Attempt{Keyword: m.Keyword, Attempt: a})
		b.observe(log, ev, m, a)
	}

	if err := p.store.Commit(ctx, ev.ID); err != nil {
		out.CommitErr = err
		p.metrics.CommitError()
		log.Error("dedup commit failed; id kept in memory only", logx.Err(err))
	}
	p.metrics.Event(out.Status.String())
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeEventRouted, Data: b.eventData(ev, len(matches), out.CommitErr)})
	return out
}

func (b *batchRun) observe(log logx.Logger, ev feed.Event, m routes.Match, a delivery.Attempt) {
	target := delivery.Redacted(m.Target)
	fields := []logx.Field{
		logx.String("keyword", m.Keyword),
		logx.String("target", target),
		logx.String("outcome", a.Outcome.String()),
		logx.Duration("took", a.Took),
	}
	if a.Status != 0 {
		fields = append(fields, logx.Int("status", a.Status))
	}
	if a.Retried {
		fields = append(fields, logx.Bool("retried", true))
	}
	if a.Detail != "" {
		fields = append(fields, logx.String("detail", a.Detail))
	}
	switch a.Outcome {
	case delivery.Delivered:
		log.Info("delivered", fields...)
	case delivery.TargetGone:
		log.Warn("target gone; remove it from routes", fields...)
	default:
		log.Warn("delivery failed", append(fields, logx.Err(a.Err))...)
	}

	b.p.metrics.Delivery(a.Outcome.String(), a.Took)
	d := eventbus.DeliveryData{
		BatchID: b.id,
		VideoID: ev.ID,
		Keyword: m.Keyword,
		Target:  target,
		Outcome: a.Outcome.String(),
		Status:  a.Status,
		Retried: a.Retried,
		Detail:  a.Detail,
		TookMS:  a.Took.Milliseconds(),
	}
	if a.Err != nil {
		d.Error = a.Err.Error()
	}
	b.p.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Data: d})
}

func (b *batchRun) eventData(ev feed.Event, matches int, commitErr error) eventbus.EventData {
	d := eventbus.EventData{BatchID: b.id, VideoID: ev.ID, Title: ev.Title, ChannelID: ev.ChannelID, Matches: matches}
	if commitErr != nil {
		d.CommitErr = commitErr.Error()
	}
	return d
}
