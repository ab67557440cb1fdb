package push

import (
	"context"
	"sync"
)

// pool is a fixed-size goroutine pool with a bounded input queue.
type pool[T any] struct {
	queue   chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup
	once    sync.Once
}

// newPool starts n workers reading from a queue of capacity depth.
func newPool[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *pool[T] {
	if n < 1 {
		n = 1
	}
	p := &pool[T]{queue: make(chan T, depth), process: fn}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *pool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues t without blocking and reports whether it was accepted.
func (p *pool[T]) submit(t T) bool {
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// drain closes the queue and waits for queued work to finish.
func (p *pool[T]) drain() {
	p.once.Do(func() { close(p.queue) })
	p.wg.Wait()
}

func (p *pool[T]) utilization() float64 {
	if cap(p.queue) == 0 {
		return 0
	}
	return float64(len(p.queue)) / float64(cap(p.queue))
}
