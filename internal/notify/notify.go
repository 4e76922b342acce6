// Package notify fans game change notifications out to in-process subscribers.
package notify

import (
	"sync"

	"groupgames/internal/game"
)

// Change announces a committed event.
type Change struct {
	GameID    string      `json:"game_id"`
	GroupID   string      `json:"group_id"`
	Seq       int64       `json:"seq"`
	EventType string      `json:"event_type"`
	Status    game.Status `json:"status"`
	Version   int64       `json:"version"`
}

// Publisher accepts change notifications. Publish must not block.
type Publisher interface {
	Publish(c Change)
}

type discard struct{}

func (discard) Publish(Change) {}

// Discard drops every notification.
var Discard Publisher = discard{}

// Hub delivers changes to subscribers of a game. Slow subscribers miss notifications
// rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Change]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer pending changes.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[string]map[chan Change]struct{}), buffer: buffer}
}

// Subscribe returns a channel of changes to gameID and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(gameID string) (<-chan Change, func()) {
	ch := make(chan Change, h.buffer)
	h.mu.Lock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[chan Change]struct{})
	}
	h.subs[gameID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[gameID], ch)
			if len(h.subs[gameID]) == 0 {
				delete(h.subs, gameID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[c.GameID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions to gameID.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}
