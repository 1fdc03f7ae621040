package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSubscriptionClosed is returned by Next once a subscription has been
// detached or the broadcaster shut down.
var ErrSubscriptionClosed = errors.New("coordination: subscription closed")

// Broadcaster fans every published StreamEvent out to all current
// subscribers. Each subscriber owns an independent bounded channel: this is
// a true broadcast, never a shared competing-consumer queue. On a full
// buffer the event is dropped for that subscriber rather than blocking the
// producer.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	buffer      int
	keepalive   time.Duration
	closed      bool
	logger      zerolog.Logger
}

// Subscription is one observer's view of the event stream.
type Subscription struct {
	id        string
	events    chan StreamEvent
	keepalive time.Duration
	detach    func()
	once      sync.Once
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
// capacity and idle keepalive interval.
func NewBroadcaster(buffer int, keepalive time.Duration, logger zerolog.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscription),
		buffer:      buffer,
		keepalive:   keepalive,
		logger:      logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a fresh subscriber. The subscription only observes
// events published after this call. Callers must release it with
// Unsubscribe (or Subscription.Close) on every exit path.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		events:    make(chan StreamEvent, b.buffer),
		keepalive: b.keepalive,
	}
	sub.detach = func() { b.Unsubscribe(sub) }

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe detaches a subscriber. Safe to call from any exit path and
// more than once; no residual registration remains.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subscribers, sub.id)
		close(sub.events)
		b.mu.Unlock()
	})
}

// Publish delivers an event to every current subscriber. A slow subscriber
// loses the newest event instead of stalling the producer.
func (b *Broadcaster) Publish(ev StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.events <- ev:
		default:
			b.logger.Debug().
				Str("subscriber", sub.id).
				Str("event_type", string(ev.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// Close shuts the broadcaster down and detaches every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.events) })
	}
}

// SubscriberCount reports the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Next blocks until an event is available, the context is done, or the
// keepalive interval elapses with nothing to deliver, in which case a
// synthetic keepalive event is returned and waiting resumes on the next
// call. A non-positive interval disables keepalives. Returns
// ErrSubscriptionClosed once the subscription is detached.
func (s *Subscription) Next(ctx context.Context) (StreamEvent, error) {
	var timerC <-chan time.Time
	if s.keepalive > 0 {
		timer := time.NewTimer(s.keepalive)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			return StreamEvent{}, ErrSubscriptionClosed
		}
		return ev, nil
	case <-timerC:
		return StreamEvent{
			ID:        uuid.NewString(),
			Type:      EventKeepalive,
			Timestamp: time.Now(),
		}, nil
	case <-ctx.Done():
		return StreamEvent{}, ctx.Err()
	}
}

// Events exposes the raw channel for select-based consumers. The channel is
// closed on Unsubscribe.
func (s *Subscription) Events() <-chan StreamEvent {
	return s.events
}

// Close detaches the subscription from its broadcaster.
func (s *Subscription) Close() {
	if s.detach != nil {
		s.detach()
	}
}
