package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	logx "hubrelay/pkg/logx"
)

// Source is one watched channel.
type Source struct {
	ChannelID string
	Name      string
}

// Settings is read fresh before every renewal round, so source edits apply
// without restarting the renewer.
type Settings struct {
	Hub     Config
	Sources []Source
}

// Subscription is the outcome for one source in a renewal round.
type Subscription struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Renewer resubscribes every source once at start and then on a cron schedule.
type Renewer struct {
	sub     *Subscriber
	current func() Settings
	log     logx.Logger
	parser  cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	id   cron.EntryID
	ctx  context.Context

	round sync.Mutex
}

func NewRenewer(sub *Subscriber, current func() Settings, log logx.Logger) *Renewer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Renewer{
		sub:     sub,
		current: current,
		log:     log,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Run renews immediately, schedules spec and blocks until ctx is done.
func (r *Renewer) Run(ctx context.Context, spec string) error {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("renew schedule %q: %w", spec, err)
	}

	r.mu.Lock()
	r.ctx = ctx
	r.c = cron.New(
		cron.WithParser(r.parser),
		cron.WithLogger(cronLogger{log: r.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: r.log})),
	)
	r.spec = spec
	r.id = r.c.Schedule(sched, cron.FuncJob(func() { r.RenewAll(ctx) }))
	r.c.Start()
	r.mu.Unlock()
	r.log.Info("renewer started", logx.String("schedule", spec))

	r.RenewAll(ctx)

	<-ctx.Done()
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	<-c.Stop().Done()
	r.log.Info("renewer stopped")
	return nil
}

// Reschedule swaps the renewal schedule of a running renewer.
func (r *Renewer) Reschedule(spec string) error {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("renew schedule %q: %w", spec, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil || spec == r.spec {
		r.spec = spec
		return nil
	}
	ctx := r.ctx
	r.c.Remove(r.id)
	r.id = r.c.Schedule(sched, cron.FuncJob(func() { r.RenewAll(ctx) }))
	r.log.Info("renew schedule changed", logx.String("from", r.spec), logx.String("to", spec))
	r.spec = spec
	return nil
}

// RenewAll subscribes every configured source in order. One failing source
// does not stop the others. Without a public URL the round is skipped.
func (r *Renewer) RenewAll(ctx context.Context) []Subscription {
	r.round.Lock()
	defer r.round.Unlock()

	st := r.current()
	if _, err := st.Hub.CallbackURL(); err != nil {
		r.log.Error("renewal skipped", logx.Err(err))
		return nil
	}

	out := make([]Subscription, 0, len(st.Sources))
	failed := 0
	for _, src := range st.Sources {
		if ctx.Err() != nil {
			break
		}
		res := Subscription{ChannelID: src.ChannelID, Name: src.Name, OK: true}
		if err := r.sub.Subscribe(ctx, st.Hub, src.ChannelID); err != nil {
			res.OK, res.Error = false, err.Error()
			failed++
			r.log.Warn("subscribe failed", logx.String("channel", src.ChannelID), logx.String("name", src.Name), logx.Err(err))
		} else {
			r.log.Debug("subscribed", logx.String("channel", src.ChannelID))
		}
		out = append(out, res)
	}
	r.log.Info("renewal round done", logx.Int("sources", len(out)), logx.Int("failed", failed))
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fs := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fs = append(fs, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fs
}
