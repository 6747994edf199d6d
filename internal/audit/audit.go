// Package audit persists relay events (deliveries, routing decisions, hub
// subscriptions) for later inspection. Records are JSON lines written to a
// local file or produced to a Kafka topic.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"hubrelay/internal/eventbus"
	logx "hubrelay/pkg/logx"
)

type Config struct {
	Driver  string
	Path    string
	Brokers []string
	Topic   string
	Buffer  int
}

const (
	defaultPath   = "./audit.jsonl"
	defaultBuffer = 256
)

// Sink stores one encoded record. key groups related records (video or batch id).
type Sink interface {
	Write(ctx context.Context, key string, record []byte) error
	Close() error
}

// Open builds the sink for cfg.Driver ("file" or "kafka").
func Open(cfg Config) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file", "jsonl":
		path := cfg.Path
		if strings.TrimSpace(path) == "" {
			path = defaultPath
		}
		return openFile(path)
	case "kafka":
		return openKafka(cfg.Brokers, cfg.Topic)
	default:
		return nil, fmt.Errorf("unknown audit driver: %s", cfg.Driver)
	}
}

type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func openFile(path string) (*fileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Write(_ context.Context, _ string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 0, len(record)+1)
	buf = append(append(buf, record...), '\n')
	_, err := s.f.Write(buf)
	return err
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

type kafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func kafkaConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.Version = sarama.V3_6_0_0
	c.ClientID = "hubrelay-audit"
	c.Producer.Return.Successes = true
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Timeout = 5 * time.Second
	return c
}

func openKafka(brokers []string, topic string) (*kafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("audit: kafka needs brokers and topic")
	}
	p, err := sarama.NewSyncProducer(brokers, kafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("audit: kafka producer: %w", err)
	}
	return newKafkaSink(p, topic), nil
}

func newKafkaSink(p sarama.SyncProducer, topic string) *kafkaSink {
	return &kafkaSink{producer: p, topic: topic}
}

func (s *kafkaSink) Write(_ context.Context, key string, record []byte) error {
	msg := &sarama.ProducerMessage{Topic: s.topic, Value: sarama.ByteEncoder(record)}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

func (s *kafkaSink) Close() error { return s.producer.Close() }

// Recorder copies bus events into a Sink.
type Recorder struct {
	sink  Sink
	log   logx.Logger
	ch    <-chan eventbus.Event
	unsub func()
}

// Types recorded by default.
var DefaultTypes = []string{
	eventbus.TypeBatchRejected,
	eventbus.TypeEventUnrouted,
	eventbus.TypeEventRouted,
	eventbus.TypeDelivery,
	eventbus.TypeSubscribe,
	eventbus.TypeConfigReload,
}

func NewRecorder(bus eventbus.Bus, sink Sink, buffer int, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	// Subscribe now so nothing published before Run starts is missed.
	ch, unsub := bus.Subscribe(buffer, DefaultTypes...)
	return &Recorder{sink: sink, log: log, ch: ch, unsub: unsub}
}

// Run records events until ctx is done, then drains what is already queued.
// A failed write is logged and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	ch := r.ch
	defer r.unsub()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return nil
					}
					r.record(context.WithoutCancel(ctx), e)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("audit encode failed", logx.String("type", e.Type), logx.Err(err))
		return
	}
	if err := r.sink.Write(ctx, keyOf(e), b); err != nil {
		r.log.Warn("audit write failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func keyOf(e eventbus.Event) string {
	switch d := e.Data.(type) {
	case eventbus.DeliveryData:
		return d.VideoID
	case eventbus.EventData:
		return d.VideoID
	case eventbus.BatchData:
		return d.BatchID
	case eventbus.SubscribeData:
		return d.ChannelID
	default:
		return ""
	}
}
