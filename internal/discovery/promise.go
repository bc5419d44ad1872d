package discovery

import (
	"context"
	"sync"
)

// promise is a one-shot result filled by radio callbacks and awaited by the
// unit of work that started the operation.
type promise[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

// resolve stores v. Only the first call has an effect.
func (p *promise[T]) resolve(v T) {
	p.once.Do(func() {
		p.val = v
		close(p.done)
	})
}

// await blocks until the promise is resolved or ctx is done.
func (p *promise[T]) await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
