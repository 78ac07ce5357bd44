package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	StatusRecorded = "recorded"
	StatusRejected = "rejected"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidUserID  = errors.New("invalid_user_id")
)

// LiveEvent is one usage report as seen by an operator watching a user.
type LiveEvent struct {
	UserID           string `json:"user_id"`
	APIKey           string `json:"api_key"`
	Endpoint         string `json:"endpoint"`
	QueryType        string `json:"query_type"`
	CreditsUsed      int64  `json:"credits_used"`
	RemainingCredits int64  `json:"remaining_credits"`
	RecordedAt       string `json:"recorded_at"`
	Status           string `json:"status"`
}

// Hub fans usage events out to subscribers per user. Slow subscribers drop events.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan LiveEvent
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish is a no-op for users nobody is watching.
func (h *Hub) Publish(userID string, event LiveEvent) {
	if h == nil {
		return
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return
	}
	h.mu.RLock()
	current := h.streams[id]
	h.mu.RUnlock()
	if current == nil {
		return
	}

	current.mu.Lock()
	current.buffer = append(current.buffer, event)
	if len(current.buffer) > h.bufferSize {
		current.buffer = current.buffer[len(current.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(current.subs))
	for _, ch := range current.subs {
		subs = append(subs, ch)
	}
	current.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live subscription plus the events buffered since the
// stream opened.
func (h *Hub) Subscribe(userID string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, nil, ErrInvalidUserID
	}

	current := h.ensureStream(id)
	current.mu.Lock()
	subID := current.nextID
	current.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	current.subs[subID] = ch
	buffer := append([]LiveEvent(nil), current.buffer...)
	current.mu.Unlock()

	return &Subscription{hub: h, userID: id, id: subID, ch: ch}, buffer, nil
}

func (h *Hub) ensureStream(userID string) *stream {
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[userID] = current
	}
	return current
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current == nil {
		return
	}

	current.mu.Lock()
	delete(current.subs, id)
	remaining := len(current.subs)
	current.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[userID] != current {
		return
	}
	current.mu.Lock()
	empty := len(current.subs) == 0
	current.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
