package batch

import (
	"context"
	"errors"
	"sync"
)

// ErrPrefetcherClosed is returned by Next after Close.
var ErrPrefetcherClosed = errors.New("prefetcher closed")

type prefetched struct {
	batch *Batch
	err   error
}

// Prefetcher reads batches from a Source in a background goroutine into a bounded
// queue. Batches come out in the order the source produced them.
type Prefetcher struct {
	src    Source
	queue  chan prefetched
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Prefetch starts reading up to depth batches ahead of the consumer. The producer
// stops at the first source error, which is delivered in order.
func Prefetch(ctx context.Context, src Source, depth int) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Prefetcher{
		src:    src,
		queue:  make(chan prefetched, depth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Prefetcher) run() {
	defer close(p.done)
	defer close(p.queue)
	for {
		b, err := p.src.Next()
		select {
		case p.queue <- prefetched{batch: b, err: err}:
		case <-p.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next batch in source order.
func (p *Prefetcher) Next() (*Batch, error) {
	select {
	case item, ok := <-p.queue:
		if !ok {
			return nil, ErrPrefetcherClosed
		}
		return item.batch, item.err
	case <-p.ctx.Done():
		return nil, ErrPrefetcherClosed
	}
}

// StepsPerEpoch delegates to the underlying source.
func (p *Prefetcher) StepsPerEpoch() (int, error) {
	return p.src.StepsPerEpoch()
}

// Close stops the producer and waits for it to exit.
func (p *Prefetcher) Close() {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
}
