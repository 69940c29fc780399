package storage

import (
	"context"
	"sync"
)

// Lazy builds a value on first use and keeps it until invalidated.
type Lazy[T any] struct {
	mu    sync.Mutex
	build func(context.Context) (T, error)
	val   T
	built bool
}

// NewLazy returns a Lazy using build to produce its value.
func NewLazy[T any](build func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// GetOrBuild returns the cached value, building it if needed. A failed
// build is not cached.
func (l *Lazy[T]) GetOrBuild(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.built {
		return l.val, nil
	}
	v, err := l.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.val = v
	l.built = true
	return v, nil
}

// Invalidate drops the cached value; the next GetOrBuild rebuilds it.
func (l *Lazy[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T
	l.val = zero
	l.built = false
}

// Built reports whether a value is cached.
func (l *Lazy[T]) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.built
}
