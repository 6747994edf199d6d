package app

import (
	"context"
	"strings"

	"hubrelay/internal/config"
	"hubrelay/internal/delivery"
	"hubrelay/internal/eventbus"
	"hubrelay/internal/hub"
	logx "hubrelay/pkg/logx"
)

// Subscribe runs a single renewal round for every configured source without
// starting the server. A nil result means no public URL is configured.
func Subscribe(ctx context.Context, cfg *config.Config, log logx.Logger) ([]hub.Subscription, error) {
	st, err := mapHub(cfg)
	if err != nil {
		return nil, err
	}
	sub := hub.NewSubscriber(log, eventbus.Nop{}, nil)
	r := hub.NewRenewer(sub, func() hub.Settings { return st }, log)
	res := r.RenewAll(ctx)
	if res == nil {
		return nil, hub.ErrNoPublicURL
	}
	return res, nil
}

// CheckTargets sends a test message to every distinct route target, or to
// only, when given.
func CheckTargets(ctx context.Context, cfg *config.Config, only []string, log logx.Logger) ([]delivery.Attempt, error) {
	dc, err := mapDelivery(cfg)
	if err != nil {
		return nil, err
	}
	pc, err := mapPacing(cfg)
	if err != nil {
		return nil, err
	}
	targets := only
	if len(targets) == 0 {
		seen := map[string]bool{}
		for _, r := range cfg.Routes {
			t := strings.TrimSpace(r.Target)
			if t != "" && !seen[t] {
				seen[t] = true
				targets = append(targets, t)
			}
		}
	}
	return delivery.New(dc, log).CheckTargets(ctx, targets, pc.Pacing), nil
}
