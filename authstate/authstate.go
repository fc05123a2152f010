// Package authstate fans session changes out to in-process subscribers.
package authstate

import (
	"sync"
	"time"
)

// EventType names a session change.
type EventType string

const (
	SignedIn        EventType = "SIGNED_IN"
	SignedOut       EventType = "SIGNED_OUT"
	TokenRefreshed  EventType = "TOKEN_REFRESHED"
	PasswordChanged EventType = "PASSWORD_CHANGED"
)

// Event is one session change.
type Event struct {
	Type     EventType
	UserID   uint
	Email    string
	ClientIP string
	At       time.Time
}

// Subscriber receives events synchronously and must not block.
type Subscriber func(Event)

// Broadcaster is the session store shared by the auth handlers. It is created once
// at startup and passed to whoever needs it.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	// current holds the latest event per user so late readers can ask who is signed in.
	current map[uint]Event
}

type subscription struct {
	id uint64
	fn Subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{current: make(map[uint]Event)}
}

// Subscribe registers fn and returns a func that removes it. Calling the returned
// func more than once is harmless.
func (b *Broadcaster) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish records ev and delivers it to every subscriber in registration order.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	if ev.Type == SignedOut {
		delete(b.current, ev.UserID)
	} else {
		b.current[ev.UserID] = ev
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Current returns the last non sign-out event for userID.
func (b *Broadcaster) Current(userID uint) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.current[userID]
	return ev, ok
}

// SubscriberCount is used by tests and the metrics endpoint.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
