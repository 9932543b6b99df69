// Package observer provides a small synchronous publish/subscribe subject.
//
// Delivery happens on the notifying goroutine, in registration order. A
// panicking observer is not recovered: observers are trusted in-process
// components and must return quickly.
package observer

import "sync"

// Subject fans a value of type T out to every registered observer.
type Subject[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	observers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscription is the handle returned by Observe. Closing it removes the
// observer; Close is safe to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close removes the observer from its subject.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Observe registers fn and returns a handle that unregisters it.
func (s *Subject[T]) Observe(fn func(T)) *Subscription {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, entry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return &Subscription{cancel: func() { s.remove(id) }}
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.observers {
		if e.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Notify delivers v to all observers registered at the time of the call.
// The subject lock is not held during delivery, so observers may subscribe
// or unsubscribe from inside their callback.
func (s *Subject[T]) Notify(v T) {
	s.mu.Lock()
	snapshot := make([]entry[T], len(s.observers))
	copy(snapshot, s.observers)
	s.mu.Unlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}

// Len returns the number of registered observers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}
