// Package feed pushes fresh snapshots to subscribers whenever a collection
// changes. Writers publish an Event naming the collection; every subscriber
// of that collection re-runs its query and receives the result.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	Categories = "categories"
	Products   = "menuItems"
	Orders     = "orders"
	Inventory  = "inventory"
)

type Event struct {
	Collection string    `json:"collection"`
	At         time.Time `json:"at"`
}

type Snapshot struct {
	Collection string    `json:"collection"`
	Data       any       `json:"data"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Query loads the current state a subscriber wants to see.
type Query func(ctx context.Context) (any, error)

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	logger zerolog.Logger
	now    func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[chan struct{}]struct{}),
		logger: logger.With().Str("component", "feed").Logger(),
		now:    time.Now,
	}
}

// Publish wakes every subscriber of ev.Collection. It never blocks: a
// subscriber that has not yet consumed its previous wake-up simply runs once.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for wake := range h.subs[ev.Collection] {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Subscribe emits an initial snapshot and then one per change until ctx is
// done, at which point the channel is closed.
func (h *Hub) Subscribe(ctx context.Context, collection string, query Query) <-chan Snapshot {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	h.mu.Lock()
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[chan struct{}]struct{})
	}
	h.subs[collection][wake] = struct{}{}
	h.mu.Unlock()

	out := make(chan Snapshot, 1)
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.subs[collection], wake)
			if len(h.subs[collection]) == 0 {
				delete(h.subs, collection)
			}
			h.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			snap := h.load(ctx, collection, query)
			select {
			case <-ctx.Done():
				return
			case out <- snap:
			}
		}
	}()
	return out
}

func (h *Hub) load(ctx context.Context, collection string, query Query) Snapshot {
	data, err := query(ctx)
	snap := Snapshot{Collection: collection, Data: data, At: h.now().UTC()}
	if err != nil {
		h.logger.Error().Err(err).Str("collection", collection).Msg("snapshot query failed")
		snap.Data = []any{}
		snap.Error = "snapshot unavailable"
	}
	return snap
}

// Subscribers reports how many live subscriptions a collection has.
func (h *Hub) Subscribers(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}
