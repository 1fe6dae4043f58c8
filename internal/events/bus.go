package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Listener receives events. Listeners run synchronously on the emitting
// goroutine and should return quickly.
type Listener func(Event)

// subscription gives each registration an identity so unsubscribe removes
// exactly the callback it was returned for.
type subscription struct {
	fn Listener
}

// Bus delivers events to listeners keyed by session id and to global
// listeners. There is no queue and no replay.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string][]*subscription
	global   []*subscription
	logger   *zap.Logger
}

// NewBus creates an empty bus. A nil logger disables panic logging.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		sessions: make(map[string][]*subscription),
		logger:   logger,
	}
}

// On registers a listener for one session and returns its unsubscribe
// function. Unsubscribe is idempotent.
func (b *Bus) On(sessionID string, fn Listener) func() {
	sub := &subscription{fn: fn}

	b.mu.Lock()
	b.sessions[sessionID] = append(b.sessions[sessionID], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := remove(b.sessions[sessionID], sub)
			if len(subs) == 0 {
				delete(b.sessions, sessionID)
				return
			}
			b.sessions[sessionID] = subs
		})
	}
}

// OnAny registers a listener for every session.
func (b *Bus) OnAny(fn Listener) func() {
	sub := &subscription{fn: fn}

	b.mu.Lock()
	b.global = append(b.global, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.global = remove(b.global, sub)
			b.mu.Unlock()
		})
	}
}

// Emit delivers the event to the session's listeners, then to global
// listeners, each in registration order. A panicking listener is logged and
// skipped.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.sessions[event.SessionID])+len(b.global))
	targets = append(targets, b.sessions[event.SessionID]...)
	targets = append(targets, b.global...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
}

// ListenerCount returns the number of listeners registered for a session.
func (b *Bus) ListenerCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// SessionCount returns how many sessions currently have listeners.
func (b *Bus) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("session_id", event.SessionID),
				zap.String("event_type", string(event.Type)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.fn(event)
}

// remove returns subs without target. It allocates a new slice so snapshots
// taken by Emit are never modified.
func remove(subs []*subscription, target *subscription) []*subscription {
	out := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
