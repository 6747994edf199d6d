package eventbus

// Event types published by the relay.
const (
	TypeBatchAccepted = "notification.accepted"
	TypeBatchRejected = "notification.rejected"
	TypeEventSkipped  = "event.skipped"
	TypeEventUnrouted = "event.unrouted"
	TypeEventRouted   = "event.routed"
	TypeDelivery      = "delivery.attempt"
	TypeSubscribe     = "hub.subscribe"
	TypeConfigReload  = "config.reload"
)

type BatchData struct {
	BatchID string `json:"batch_id"`
	Entries int    `json:"entries,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type EventData struct {
	BatchID   string `json:"batch_id"`
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	ChannelID string `json:"channel_id,omitempty"`
	Matches   int    `json:"matches,omitempty"`
	CommitErr string `json:"commit_err,omitempty"`
}

type DeliveryData struct {
	BatchID string `json:"batch_id"`
	VideoID string `json:"video_id"`
	Keyword string `json:"keyword"`
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	Status  int    `json:"status,omitempty"`
	Retried bool   `json:"retried,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
	TookMS  int64  `json:"took_ms"`
}

type SubscribeData struct {
	ChannelID string `json:"channel_id"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ReloadData struct {
	Sections []string `json:"sections"`
	Restart  []string `json:"restart_required,omitempty"`
}
