package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	logx "hubrelay/pkg/logx"
)

// blob persists the whole set as one JSON document.
// Load returns (nil, nil) when nothing has been stored yet.
type blob interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
	String() string
}

// snapshotStore keeps the set in memory and rewrites the blob on every new id.
type snapshotStore struct {
	blob blob
	log  logx.Logger

	maxBytes int
	keep     int

	mu     sync.Mutex
	ids    *idSet
	closed bool
}

func newSnapshotStore(ctx context.Context, b blob, cfg Config, log logx.Logger) *snapshotStore {
	s := &snapshotStore{
		blob:     b,
		log:      log,
		maxBytes: cfg.MaxBytes,
		keep:     cfg.KeepRecent,
		ids:      newIDSet(nil),
	}

	data, err := b.Load(ctx)
	switch {
	case err != nil:
		log.Warn("dedup state unreadable; starting empty", logx.String("source", b.String()), logx.Err(err))
	case len(strings.TrimSpace(string(data))) == 0:
	default:
		ids, err := decodeIDs(data)
		if err != nil {
			log.Warn("dedup state corrupt; starting empty", logx.String("source", b.String()), logx.Err(err))
			break
		}
		s.ids = newIDSet(ids)
		log.Info("dedup state loaded", logx.String("source", b.String()), logx.Int("ids", s.ids.len()))
	}
	return s
}

func (s *snapshotStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.has(id), nil
}

func (s *snapshotStore) Commit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.ids.add(id) {
		return nil
	}

	data, dropped, err := s.ids.encode(s.maxBytes, s.keep)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrWrite, err)
	}
	if dropped > 0 {
		s.log.Info("dedup state trimmed", logx.Int("dropped", dropped), logx.Int("kept", s.ids.len()))
	}
	if err := s.blob.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, s.blob.String(), err)
	}
	return nil
}

func (s *snapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.len()
}

func (s *snapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.blob.Close()
}
