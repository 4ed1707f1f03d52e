// Package monitor streams conversation turns to operators in real time.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/zapito/internal/domain"
)

const subscriberBufferSize = 64

// Event describes one processed turn.
type Event struct {
	ID          string       `json:"id"`
	Time        time.Time    `json:"time"`
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Text        string       `json:"text"`
	From        domain.State `json:"from"`
	To          domain.State `json:"to"`
	Route       string       `json:"route"`
	Sends       []string     `json:"sends"`
	Failed      int          `json:"failed,omitempty"`
}

type subscriber struct {
	userID string // empty receives every user
	ch     chan Event
}

// Broadcaster fans out events to subscribers without blocking publishers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs    map[string]*subscriber
	history *History
	closed  bool
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster that remembers the last
// DefaultHistorySize events. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return NewBroadcasterWithHistory(DefaultHistorySize, logger)
}

// NewBroadcasterWithHistory creates a broadcaster with a replay ring of
// historySize events.
func NewBroadcasterWithHistory(historySize int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:    make(map[string]*subscriber),
		history: NewHistory(historySize),
		logger:  logger.With("component", "monitor"),
	}
}

// Subscribe registers for events of userID, or all users when empty. The
// subscription ends when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan Event, string) {
	_, ch, id := b.SubscribeWithReplay(ctx, userID)
	return ch, id
}

// SubscribeWithReplay is Subscribe that also returns the recent events
// matching userID. No event is both replayed and delivered on the channel.
func (b *Broadcaster) SubscribeWithReplay(ctx context.Context, userID string) ([]Event, <-chan Event, string) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return nil, ch, id
	}
	replay := b.history.Events(userID)
	b.subs[id] = &subscriber{userID: userID, ch: ch}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", id, "user_id", userID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()
	return replay, ch, id
}

// Recent returns the remembered events for userID, or all users when empty.
func (b *Broadcaster) Recent(userID string) []Event {
	if b == nil {
		return nil
	}
	return b.history.Events(userID)
}

// Publish delivers ev to matching subscribers. Slow subscribers miss events.
func (b *Broadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.history.Add(ev)
	for id, s := range b.subs {
		if s.userID != "" && s.userID != ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "event_id", ev.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
	b.logger.Debug("subscriber removed", "sub_id", id)
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	b.closed = true
}
