package cache

import (
	"context"
	"sync"
)

// Lazy memoizes values computed per key. The first Get for a key runs the
// loader and keeps the result; later Gets return the stored value without
// loading again. Failed loads are not stored, so the next Get retries.
//
// The mutex is held across the load, so concurrent Gets serialize and each
// key loads at most once.
type Lazy[K comparable, V any] struct {
	mu     sync.Mutex
	load   func(ctx context.Context, key K) (V, error)
	values map[K]V
}

// NewLazy returns a Lazy backed by the given loader.
func NewLazy[K comparable, V any](load func(ctx context.Context, key K) (V, error)) *Lazy[K, V] {
	return &Lazy[K, V]{
		load:   load,
		values: make(map[K]V),
	}
}

// Get returns the value for key, loading it on first use.
func (l *Lazy[K, V]) Get(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if value, ok := l.values[key]; ok {
		return value, nil
	}

	value, err := l.load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	l.values[key] = value
	return value, nil
}

// Peek returns the stored value for key without loading.
func (l *Lazy[K, V]) Peek(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	value, ok := l.values[key]
	return value, ok
}

// Put stores a value directly, replacing any loaded one.
func (l *Lazy[K, V]) Put(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.values[key] = value
}

// Invalidate drops the stored value for key, forcing a reload on next Get.
func (l *Lazy[K, V]) Invalidate(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.values, key)
}

// Clear drops every stored value.
func (l *Lazy[K, V]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.values = make(map[K]V)
}

// Keys returns the keys with stored values, in no particular order.
func (l *Lazy[K, V]) Keys() []K {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]K, 0, len(l.values))
	for key := range l.values {
		keys = append(keys, key)
	}
	return keys
}

// Len returns how many values are stored.
func (l *Lazy[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.values)
}
