package idb

import "sync"

// Promise is the deferred result of an asynchronous operation. It settles
// exactly once; later resolve or reject calls are ignored.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// async runs fn on its own goroutine and settles the promise with its result.
func async[T any](fn func() (T, error)) *Promise[T] {
	p := newPromise[T]()
	go func() {
		v, err := fn()
		if err != nil {
			p.reject(err)
			return
		}
		p.resolve(v)
	}()
	return p
}

func (p *Promise[T]) resolve(v T) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

func (p *Promise[T]) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the promise has settled.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles and returns its outcome.
func (p *Promise[T]) Await() (T, error) {
	<-p.done
	return p.value, p.err
}

// GetAsync is Get returning a Promise.
func (s *Store) GetAsync(key string) *Promise[any] {
	return async(func() (any, error) { return s.Get(key) })
}

// SetAsync is Set returning a Promise.
func (s *Store) SetAsync(key string, value any) *Promise[struct{}] {
	return async(func() (struct{}, error) { return struct{}{}, s.Set(key, value) })
}

// RemoveAsync is Remove returning a Promise.
func (s *Store) RemoveAsync(key string) *Promise[struct{}] {
	return async(func() (struct{}, error) { return struct{}{}, s.Remove(key) })
}

// ClearAsync is Clear returning a Promise.
func (s *Store) ClearAsync() *Promise[struct{}] {
	return async(func() (struct{}, error) { return struct{}{}, s.Clear() })
}

// KeysAsync is Keys returning a Promise.
func (s *Store) KeysAsync() *Promise[[]string] {
	return async(s.Keys)
}
