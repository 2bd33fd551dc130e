// Package mailbox provides the bounded message queue owned by every actor.
//
// A Mailbox has two levels. Messages classified as high priority are always
// dequeued before normal ones, and messages classified as droppable are
// discarded while an equal message is still queued.
package mailbox

import (
	"errors"
	"sync"
)

var (
	// ErrFull is returned by Post when the level the message belongs to has
	// reached capacity.
	ErrFull = errors.New("mailbox full")
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("mailbox closed")
	// ErrDuplicate is returned by Post when a droppable message is discarded
	// because an equal one is already queued.
	ErrDuplicate = errors.New("duplicate message dropped")
)

// Option configures a Mailbox.
type Option[T any] func(*Mailbox[T])

// WithPriority classifies messages: those for which f returns true jump ahead
// of every normal message.
func WithPriority[T any](f func(T) bool) Option[T] {
	return func(m *Mailbox[T]) {
		m.isHigh = f
	}
}

// WithDropDuplicates classifies droppable messages. f returns a key and true
// for droppable messages; a message is dropped while another one with the
// same key is queued.
func WithDropDuplicates[T any](f func(T) (string, bool)) Option[T] {
	return func(m *Mailbox[T]) {
		m.dropKey = f
	}
}

// WithUnbounded classifies messages that must never be refused for lack of
// room. They go to the high level whatever its length.
func WithUnbounded[T any](f func(T) bool) Option[T] {
	return func(m *Mailbox[T]) {
		m.unbounded = f
	}
}

// Mailbox is safe for concurrent Post; a single owner receives.
type Mailbox[T any] struct {
	l        sync.Mutex
	high     []T
	normal   []T
	capacity int
	pending  map[string]int
	closed   bool

	isHigh    func(T) bool
	dropKey   func(T) (string, bool)
	unbounded func(T) bool

	notify chan struct{}
}

// New creates a Mailbox holding at most capacity messages per level.
func New[T any](capacity int, opts ...Option[T]) *Mailbox[T] {
	m := &Mailbox[T]{
		capacity: capacity,
		pending:  make(map[string]int),
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Post enqueues msg without blocking.
func (m *Mailbox[T]) Post(msg T) error {
	m.l.Lock()
	defer m.l.Unlock()

	if m.closed {
		return ErrClosed
	}

	var key string
	droppable := false
	if m.dropKey != nil {
		key, droppable = m.dropKey(msg)
		if droppable && m.pending[key] > 0 {
			return ErrDuplicate
		}
	}

	switch {
	case m.unbounded != nil && m.unbounded(msg):
		m.high = append(m.high, msg)
	case m.isHigh != nil && m.isHigh(msg):
		if len(m.high) >= m.capacity {
			return ErrFull
		}
		m.high = append(m.high, msg)
	default:
		if len(m.normal) >= m.capacity {
			return ErrFull
		}
		m.normal = append(m.normal, msg)
	}

	if droppable {
		m.pending[key]++
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}

	return nil
}

// TryReceive dequeues the next message if there is one.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	m.l.Lock()
	defer m.l.Unlock()

	var zero T
	var msg T

	switch {
	case len(m.high) > 0:
		msg = m.high[0]
		m.high[0] = zero
		m.high = m.high[1:]
	case len(m.normal) > 0:
		msg = m.normal[0]
		m.normal[0] = zero
		m.normal = m.normal[1:]
	default:
		return zero, false
	}

	if m.dropKey != nil {
		if key, ok := m.dropKey(msg); ok {
			if m.pending[key]--; m.pending[key] <= 0 {
				delete(m.pending, key)
			}
		}
	}

	if len(m.high)+len(m.normal) > 0 {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}

	return msg, true
}

// Receive blocks until a message is available or done is closed.
func (m *Mailbox[T]) Receive(done <-chan struct{}) (T, bool) {
	for {
		if msg, ok := m.TryReceive(); ok {
			return msg, true
		}
		select {
		case <-m.notify:
		case <-done:
			var zero T
			return zero, false
		}
	}
}

// Ready is signalled when messages may be available. Owners that select on
// several sources drain the mailbox with TryReceive after it fires.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Len ...
func (m *Mailbox[T]) Len() int {
	m.l.Lock()
	defer m.l.Unlock()
	return len(m.high) + len(m.normal)
}

// Close rejects further posts. Queued messages can still be received.
func (m *Mailbox[T]) Close() {
	m.l.Lock()
	defer m.l.Unlock()
	m.closed = true
}
