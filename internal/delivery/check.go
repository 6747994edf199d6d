package delivery

import (
	"context"
	"fmt"
	"time"
)

// TestMessage is posted by CheckTargets.
const TestMessage = "🧪 Test message from the YouTube relay. If you can read this, the route works."

// CheckTargets posts TestMessage to each target in order, pausing pacing
// between sends. It stops early only when ctx is done.
func (c *Client) CheckTargets(ctx context.Context, targets []string, pacing time.Duration) []Attempt {
	out := make([]Attempt, 0, len(targets))
	for i, t := range targets {
		if i > 0 {
			if err := sleep(ctx, pacing); err != nil {
				break
			}
		}
		out = append(out, c.Deliver(ctx, t, Message{Content: TestMessage}))
	}
	return out
}

// LogSender adapts a Client to the ops log sink.
type LogSender struct {
	Client *Client
	Target string
}

func (s LogSender) SendLog(ctx context.Context, text string) error {
	a := s.Client.Deliver(ctx, s.Target, Message{Content: "```\n" + text + "\n```"})
	if a.OK() {
		return nil
	}
	if a.Err != nil {
		return fmt.Errorf("ops log %s: %w", a.Outcome, a.Err)
	}
	return fmt.Errorf("ops log %s: status %d", a.Outcome, a.Status)
}
