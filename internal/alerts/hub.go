package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Hub fans new alerts out to the subscribers of each user. A subscriber
// whose buffer is full misses the alert rather than blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan types.Alert]struct{}
	since  map[string]time.Time
	buffer int
	now    func() time.Time
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[chan types.Alert]struct{}),
		since:  make(map[string]time.Time),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe registers for userID's alerts until ctx is done, at which
// point the returned channel is closed.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan types.Alert {
	ch := make(chan types.Alert, h.buffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan types.Alert]struct{})
		h.since[userID] = h.now()
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
			delete(h.since, userID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish delivers alert to every subscriber of its user and returns how
// many received it.
func (h *Hub) Publish(alert types.Alert) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subs[alert.UserID] {
		select {
		case ch <- alert:
			delivered++
		default:
		}
	}
	return delivered
}

// Users returns the ids of users with at least one subscriber.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.subs))
	for id := range h.subs {
		users = append(users, id)
	}
	return users
}

// SubscribedSince reports when userID gained its first current
// subscriber. ok is false when nobody is subscribed.
func (h *Hub) SubscribedSince(userID string) (since time.Time, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	since, ok = h.since[userID]
	return since, ok
}

// Subscribers returns the number of subscribers for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
