// Package hub keeps the relay subscribed to the WebSub hub.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hubrelay/internal/eventbus"
	"hubrelay/internal/feed"
	"hubrelay/internal/metrics"
	logx "hubrelay/pkg/logx"
)

var ErrNoPublicURL = errors.New("hub: public URL not set; cannot build the callback address")

// StatusError is a subscribe call the hub did not accept.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("hub: subscribe rejected with status %d", e.Status)
	}
	return fmt.Sprintf("hub: subscribe rejected with status %d: %s", e.Status, e.Body)
}

// Config describes one hub endpoint and our callback.
type Config struct {
	HubURL       string
	PublicURL    string
	CallbackPath string
	Timeout      time.Duration
	LeaseSeconds int
}

// CallbackURL joins the public base URL and the callback path.
func (c Config) CallbackURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	if base == "" {
		return "", ErrNoPublicURL
	}
	path := c.CallbackPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

type Subscriber struct {
	http    *http.Client
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

func NewSubscriber(log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Subscriber {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Subscriber{http: &http.Client{}, log: log, bus: bus, metrics: m}
}

// Subscribe asks the hub to (re)subscribe the callback to a channel's feed.
// Verification is asynchronous; the hub calls back with a challenge later.
func (s *Subscriber) Subscribe(ctx context.Context, cfg Config, channelID string) error {
	status, err := s.subscribe(ctx, cfg, channelID)

	d := eventbus.SubscribeData{ChannelID: channelID, Status: status}
	if err != nil {
		d.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribe, Data: d})
	s.metrics.Subscription(err == nil)
	return err
}

func (s *Subscriber) subscribe(ctx context.Context, cfg Config, channelID string) (int, error) {
	callback, err := cfg.CallbackURL()
	if err != nil {
		return 0, err
	}
	form := url.Values{
		"hub.mode":     {"subscribe"},
		"hub.topic":    {feed.TopicURL(channelID)},
		"hub.callback": {callback},
		"hub.verify":   {"async"},
	}
	if cfg.LeaseSeconds > 0 {
		form.Set("hub.lease_seconds", strconv.Itoa(cfg.LeaseSeconds))
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.HubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("hub: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("hub: subscribe %s: %w", channelID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
