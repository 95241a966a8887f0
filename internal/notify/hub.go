// Package notify fans committed account changes out to live observers.
//
// Delivery is at-least-once and coalescing: a slow subscriber only ever holds
// the newest pending snapshot for its uid, and snapshots older than the last
// one it received are dropped, so a single subscriber observes one record's
// revisions in commit order.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"metalcalc_backend/internal/model"
)

// Channel is the Postgres NOTIFY channel carrying changed uids.
const Channel = "account_changes"

var ErrClosed = errors.New("subscription closed")

// Snapshot is the committed state of one user's records.
type Snapshot struct {
	UID          string             `json:"uid"`
	Account      model.Account      `json:"account"`
	Subscription model.Subscription `json:"subscription"`
	Revision     int64              `json:"revision"`
	ObservedAt   time.Time          `json:"observed_at"`
}

// Loader reads the current committed snapshot for a uid.
type Loader interface {
	Snapshot(ctx context.Context, uid string) (Snapshot, error)
}

type Hub struct {
	loader Loader

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription
}

func NewHub(loader Loader) *Hub {
	return &Hub{
		loader: loader,
		subs:   make(map[string]map[string]*Subscription),
	}
}

// Publish offers snap to every subscriber of snap.UID. It never blocks.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[snap.UID] {
		sub.offer(snap)
	}
}

// Subscribe registers a subscriber for uid and seeds it with the current
// committed state. The subscription is closed when ctx ends or Close is called.
func (h *Hub) Subscribe(ctx context.Context, uid string) (*Subscription, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		uid:    uid,
		hub:    h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	// Register before loading so a commit racing the load is not missed; the
	// revision check discards whichever of the two is older.
	h.mu.Lock()
	if h.subs[uid] == nil {
		h.subs[uid] = make(map[string]*Subscription)
	}
	h.subs[uid][sub.id] = sub
	h.mu.Unlock()

	current, err := h.loader.Snapshot(ctx, uid)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.offer(current)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// SubscriberCount returns the number of open subscriptions across all uids.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.uid]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.subs, sub.uid)
	}
}

type Subscription struct {
	id  string
	uid string
	hub *Hub

	mu        sync.Mutex
	pending   *Snapshot
	delivered int64
	started   bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) UID() string {
	return s.uid
}

// Next blocks until a snapshot newer than the last delivered one is available.
// It returns ctx.Err() when ctx ends and ErrClosed once the subscription closes.
func (s *Subscription) Next(ctx context.Context) (Snapshot, error) {
	for {
		if snap, ok := s.take(); ok {
			return snap, nil
		}
		select {
		case <-s.signal:
		case <-s.done:
			if snap, ok := s.take(); ok {
				return snap, nil
			}
			return Snapshot{}, ErrClosed
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

// Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && snap.Revision <= s.delivered {
		return
	}
	if s.pending != nil && snap.Revision <= s.pending.Revision {
		return
	}
	s.pending = &snap

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return Snapshot{}, false
	}
	snap := *s.pending
	s.pending = nil
	s.delivered = snap.Revision
	s.started = true
	return snap, true
}
