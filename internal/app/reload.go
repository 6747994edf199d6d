package app

import (
	"context"
	"strings"

	"hubrelay/internal/config"
	"hubrelay/internal/eventbus"
	logx "hubrelay/pkg/logx"
)

// reloadLoop applies every committed config to the live components. Bursts
// are coalesced so only the newest snapshot is applied.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(next))
	a.setLogSender(next)

	a.routes.Replace(mapRoutes(next))

	// The validator already mapped next, so these cannot fail here.
	if dc, err := mapDelivery(next); err == nil {
		a.client.Apply(dc)
	}
	if pc, err := mapPacing(next); err == nil {
		a.proc.SetPacing(pc.Pacing)
	}
	a.api.SetAdminTokens(next.Admin.Tokens)

	if !next.Hub.Disabled {
		if spec, err := renewSpec(next); err == nil {
			if err := a.renewer.Reschedule(spec); err != nil {
				a.log.Warn("renew schedule not applied", logx.Err(err))
			}
		}
	}

	restart := config.RestartRequired(sections)
	if prev.Hub.Disabled != next.Hub.Disabled {
		restart = append(restart, "hub.disabled")
	}
	if next.Server.MaxInflight != prev.Server.MaxInflight {
		restart = append(restart, "server.max_inflight")
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for some sections",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.metrics.Reload(true)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Data: eventbus.ReloadData{
		Sections: sections,
		Restart:  restart,
	}})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
