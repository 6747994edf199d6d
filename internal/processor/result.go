package processor

import (
	"encoding/json"

	"hubrelay/internal/delivery"
	"hubrelay/internal/feed"
)

type Status int

const (
	// Skipped: the id was already committed.
	Skipped Status = iota
	// Unrouted: no keyword matched; the id was not committed.
	Unrouted
	// Routed: at least one delivery was attempted and the id committed.
	Routed
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Unrouted:
		return "unrouted"
	case Routed:
		return "routed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

type Attempt struct {
	Keyword string `json:"keyword"`
	delivery.Attempt
}

type EventResult struct {
	Event     feed.Event `json:"event"`
	Status    Status     `json:"status"`
	Attempts  []Attempt  `json:"attempts,omitempty"`
	CommitErr error      `json:"-"`
}

type Result struct {
	BatchID string        `json:"batch_id"`
	Events  []EventResult `json:"events"`
}

// Attempts counts delivery attempts across the batch.
func (r Result) Attempts() int {
	n := 0
	for _, e := range r.Events {
		n += len(e.Attempts)
	}
	return n
}
