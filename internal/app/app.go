// Package app wires the relay together: config, logging, the dedup store,
// routing, delivery, the notification processor, hub renewals, audit and
// the HTTP surface. It owns their start and stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hubrelay/internal/audit"
	"hubrelay/internal/config"
	"hubrelay/internal/dedup"
	"hubrelay/internal/delivery"
	"hubrelay/internal/eventbus"
	"hubrelay/internal/httpapi"
	"hubrelay/internal/hub"
	"hubrelay/internal/metrics"
	"hubrelay/internal/observability/pprof"
	"hubrelay/internal/processor"
	"hubrelay/internal/routes"
	"hubrelay/internal/runtime/supervisor"
	logx "hubrelay/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	addr string

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	metrics *metrics.Metrics
	store   dedup.Store
	routes  *routes.Table
	client  *delivery.Client
	proc    *processor.Processor
	renewer *hub.Renewer

	auditSink audit.Sink
	recorder  *audit.Recorder

	api *httpapi.API
	srv *httpapi.Server
	sup *supervisor.Supervisor
}

// Option adjusts App construction (tests).
type Option func(*options)

type options struct {
	getenv func(string) string
	addr   string
}

// WithEnv replaces the environment lookup used for config overlays.
func WithEnv(fn func(string) string) Option { return func(o *options) { o.getenv = fn } }

// WithAddr overrides server.addr.
func WithAddr(addr string) Option { return func(o *options) { o.addr = addr } }

func newManager(path string, o options) *config.Manager {
	cfgm := config.NewManager(path)
	if o.getenv != nil {
		cfgm.SetEnv(o.getenv)
	}
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	return cfgm
}

// LoadConfig parses and validates the file at path without starting anything.
func LoadConfig(path string, opts ...Option) (*config.Manager, *config.Config, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := newManager(path, o)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfgm, cfg, nil
}

// New builds every component and opens the dedup store and audit sink.
// Nothing runs until Start. A config file that is missing or does not decode
// is logged and replaced by an empty config; an invalid one is an error.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := newManager(cfgPath, o)
	cfg, readErr, err := cfgm.LoadOrEmpty()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(mapLogging(cfg))
	log := root.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, addr: o.addr, log: log, logs: logSvc, bus: eventbus.New()}
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	if readErr != nil {
		log.Warn("config unreadable; starting with empty config",
			logx.String("path", cfgPath), logx.Err(readErr))
	}

	dcfg, _ := mapDedup(cfg)
	a.store, err = dedup.Open(ctx, dcfg, root.With(logx.String("comp", "dedup")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	a.metrics = metrics.New(a.store.Len)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		err := validate(c)
		if err != nil {
			a.metrics.Reload(false)
		}
		return err
	})

	a.routes = routes.New(mapRoutes(cfg))
	delCfg, _ := mapDelivery(cfg)
	a.client = delivery.New(delCfg, root.With(logx.String("comp", "delivery")))
	a.setLogSender(cfg)

	pcfg, _ := mapPacing(cfg)
	a.proc = processor.New(pcfg, processor.Deps{
		Store:     a.store,
		Routes:    a.routes,
		Deliverer: a.client,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Log:       root.With(logx.String("comp", "processor")),
	})

	sub := hub.NewSubscriber(root.With(logx.String("comp", "hub")), a.bus, a.metrics)
	a.renewer = hub.NewRenewer(sub, a.hubSettings, root.With(logx.String("comp", "renewer")))

	if acfg, ok := mapAudit(cfg); ok {
		a.auditSink, err = audit.Open(acfg)
		if err != nil {
			_ = a.store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("open audit sink: %w", err)
		}
		a.recorder = audit.NewRecorder(a.bus, a.auditSink, acfg.Buffer, root.With(logx.String("comp", "audit")))
	}

	pprof.ApplyRuntimeRates(mapPprof(cfg))
	a.api = httpapi.New(mapHTTP(cfg), httpapi.Deps{
		Notifications: a.proc,
		Routes:        a.routes,
		Sources:       func() []hub.Source { return a.hubSettings().Sources },
		Checker:       a.client,
		Resubscriber:  a.renewer,
		Pacing:        a.proc.Pacing,
		DedupLen:      a.store.Len,
		Metrics:       a.metrics,
		Log:           root.With(logx.String("comp", "http")),
	})
	a.api.SetAdminTokens(cfg.Admin.Tokens)

	log.Info("relay configured",
		logx.Int("routes", a.routes.Len()),
		logx.Int("sources", len(cfg.Sources)),
		logx.String("dedup", strings.ToLower(orDefault(cfg.Dedup.Driver, config.DefaultDedupDriver))),
		logx.Bool("public_url", strings.TrimSpace(cfg.Hub.PublicURL) != ""),
	)
	return a, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (a *App) hubSettings() hub.Settings {
	st, _ := mapHub(a.cfgm.Get())
	return st
}

func (a *App) setLogSender(cfg *config.Config) {
	w := cfg.Logging.Webhook
	if !w.Enabled || strings.TrimSpace(w.URL) == "" {
		a.logs.SetSender(nil)
		return
	}
	a.logs.SetSender(delivery.LogSender{Client: a.client, Target: strings.TrimSpace(w.URL)})
}

// Addr is the bound HTTP address once started.
func (a *App) Addr() string {
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr()
}

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	rto, _ := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	wto, _ := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	addr := a.addr
	if addr == "" {
		addr = orDefault(cfg.Server.Addr, config.DefaultAddr)
	}
	var spec string
	if !cfg.Hub.Disabled {
		s, err := renewSpec(cfg)
		if err != nil {
			return err
		}
		spec = s
	}

	srv, err := httpapi.Listen(addr, a.api.Handler(), rto, wto, a.log.With(logx.String("comp", "http")))
	if err != nil {
		return err
	}
	a.srv = srv

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.api.SetSupervisor(a.sup)

	a.sup.Go("http.serve", a.srv.Serve)
	if a.recorder != nil {
		a.sup.Go("audit.recorder", a.recorder.Run)
	}
	if spec != "" {
		a.sup.Go("hub.renewer", func(c context.Context) error { return a.renewer.Run(c, spec) })
	}

	reloads := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(reloads)
		a.reloadLoop(c, reloads)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithBackoff(time.Second, 30*time.Second))

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("relay started", logx.String("addr", a.srv.Addr()))
	return nil
}

// Stop drains HTTP first so in-flight batches finish and commit, then stops
// background tasks and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		err := a.store.Close()
		if a.auditSink != nil {
			err = errors.Join(err, a.auditSink.Close())
		}
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(c); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 10*time.Second, a.srv.Shutdown)
	step("supervisor", 5*time.Second, a.sup.Stop)
	if a.auditSink != nil {
		step("audit", 2*time.Second, func(context.Context) error { return a.auditSink.Close() })
	}
	step("dedup", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
