package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hubrelay/internal/app"
	"hubrelay/internal/delivery"
	logx "hubrelay/pkg/logx"
)

func subscribeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe every configured channel at the hub once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := app.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := app.Subscribe(ctx, cfg, logx.NewConsoleTo(logx.Stderr(), cfg.Logging.Level))
			if err != nil {
				return err
			}
			failed := 0
			for _, s := range res {
				if !s.OK {
					failed++
				}
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d subscriptions failed", failed, len(res))
			}
			return nil
		},
	}
}

type checkResult struct {
	Target  string           `json:"target"`
	Outcome delivery.Outcome `json:"outcome"`
	Status  int              `json:"status,omitempty"`
	Retried bool             `json:"retried,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	Error   string           `json:"error,omitempty"`
	TookMS  int64            `json:"took_ms"`
}

func checkTargetsCmd(cfgPath *string) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "check-targets",
		Short: "Post a test message to every route target and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := app.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			attempts, err := app.CheckTargets(ctx, cfg, only, logx.NewConsoleTo(logx.Stderr(), cfg.Logging.Level))
			if err != nil {
				return err
			}
			out := make([]checkResult, 0, len(attempts))
			failed := 0
			for _, a := range attempts {
				r := checkResult{
					Target:  delivery.Redacted(a.Target),
					Outcome: a.Outcome,
					Status:  a.Status,
					Retried: a.Retried,
					Detail:  a.Detail,
					TookMS:  a.Took.Round(time.Millisecond).Milliseconds(),
				}
				if a.Err != nil {
					r.Error = a.Err.Error()
				}
				if !a.OK() {
					failed++
				}
				out = append(out, r)
			}
			if err := printJSON(out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d targets failed", failed, len(out))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "target", nil, "check only these targets (repeatable)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
