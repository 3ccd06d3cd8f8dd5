// Package notify implements the observer registration used to tell outer
// layers about engine state changes.
package notify

import "sync"

// Feed delivers values to registered listeners. Publish calls listeners
// synchronously, in registration order, without holding the feed lock, so a
// listener may subscribe or unsubscribe from within a callback. The zero
// value is ready to use.
type Feed[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it again.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listener[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.listeners {
		if l.id == id {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every listener registered at the time of the call.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	ls := f.listeners
	f.mu.Unlock()

	for _, l := range ls {
		l.fn(v)
	}
}

// Len returns the number of registered listeners.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
