package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryChannel is an in-process Channel implementation used by tests and
// single-node development runs.
type MemoryChannel struct {
	dedup

	mu     sync.Mutex
	data   map[string][]byte
	subs   map[string][]chan struct{}
	writes map[string]int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		data:   make(map[string][]byte),
		subs:   make(map[string][]chan struct{}),
		writes: make(map[string]int),
	}
}

// MemoryDialer returns a Dialer that hands out the same shared channel
// regardless of coordinates.
func MemoryDialer(ch *MemoryChannel) Dialer {
	return func(ctx context.Context, host string, port int) (Channel, error) {
		return ch, nil
	}
}

func (c *MemoryChannel) Publish(ctx context.Context, runID string, snapshot Snapshot) error {
	enc, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if !c.changed(runID, enc) {
		return nil
	}

	c.mu.Lock()
	c.data[runID] = enc
	c.writes[runID]++
	listeners := append([]chan struct{}(nil), c.subs[runID]...)
	c.mu.Unlock()

	for _, l := range listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *MemoryChannel) Get(ctx context.Context, runID string) (Snapshot, error) {
	c.mu.Lock()
	enc, ok := c.data[runID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(enc, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, runID string) (Subscription, error) {
	notify := make(chan struct{}, 16)

	c.mu.Lock()
	c.subs[runID] = append(c.subs[runID], notify)
	c.mu.Unlock()

	return &memorySubscription{parent: c, runID: runID, notify: notify}, nil
}

func (c *MemoryChannel) Close() error {
	return nil
}

// Writes reports how many distinct writes reached the store for runID.
// Used by tests to assert publish de-duplication.
func (c *MemoryChannel) Writes(runID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[runID]
}

type memorySubscription struct {
	parent *MemoryChannel
	runID  string
	notify chan struct{}
}

func (s *memorySubscription) Next(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.notify:
		return nil
	}
}

func (s *memorySubscription) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()

	listeners := s.parent.subs[s.runID]
	for i, l := range listeners {
		if l == s.notify {
			s.parent.subs[s.runID] = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
	return nil
}

var _ Channel = (*MemoryChannel)(nil)
