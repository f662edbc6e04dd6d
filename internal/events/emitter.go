// Package events is a small publish/subscribe registry keyed by event type.
//
// Emit is a synchronous fan-out over a snapshot of the listeners registered
// for the type (plus wildcard listeners), taken before any listener runs, so
// listeners may register or remove listeners without affecting the current
// emission.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Wildcard listeners receive every event type.
const Wildcard = "*"

// Event is a translated ledger event.
type Event struct {
	Type     string // e.g. "incoming_prepare", "outgoing_fulfill"
	Username string // Affected account; set on global events
	Args     []any
}

// Listener handles one event. A returned error is reported by Emit.
type Listener func(ctx context.Context, ev Event) error

// ListenerID identifies a registered listener for removal.
type ListenerID uuid.UUID

type entry struct {
	id ListenerID
	fn Listener
}

// Emitter is safe for concurrent use. The zero value is ready to use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]entry
}

// On registers fn for eventType and returns its ID.
func (e *Emitter) On(eventType string, fn Listener) ListenerID {
	id := ListenerID(uuid.New())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]entry)
	}
	e.listeners[eventType] = append(e.listeners[eventType], entry{id: id, fn: fn})
	return id
}

// Off removes a listener. Reports whether it was registered.
func (e *Emitter) Off(eventType string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[eventType]
	for i, l := range list {
		if l.id != id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, eventType)
		} else {
			e.listeners[eventType] = next
		}
		return true
	}
	return false
}

// RemoveAllListeners drops every listener of every type.
func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

// ListenerCount returns the number of listeners registered for eventType,
// not counting wildcard listeners.
func (e *Emitter) ListenerCount(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[eventType])
}

// Emit calls every listener for ev.Type, then every wildcard listener, in
// registration order. All listeners run even if some fail; their errors are
// joined. A panicking listener is reported as an error.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	snapshot := e.snapshot(ev.Type)

	var errs []error
	for _, l := range snapshot {
		if err := call(ctx, l.fn, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Emitter) snapshot(eventType string) []entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	typed := e.listeners[eventType]
	var wild []entry
	if eventType != Wildcard {
		wild = e.listeners[Wildcard]
	}

	out := make([]entry, 0, len(typed)+len(wild))
	out = append(out, typed...)
	return append(out, wild...)
}

func call(ctx context.Context, fn Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener for %q panicked: %v", ev.Type, r)
		}
	}()
	return fn(ctx, ev)
}
