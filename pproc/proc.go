// Package pproc runs independent units of work, such as last name buckets, in
// parallel.
package pproc

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles one bucket. Buckets are independent, a ProcessFunc must
// not share mutable state between buckets without synchronization.
type ProcessFunc func(ctx context.Context, bucket string) error

// ProcessorOption allows configuration of the Processor
type ProcessorOption func(*Processor)

// WithWorkers sets the number of worker goroutines
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.numWorkers = n
		}
	}
}

// WithDone registers a function called after each successfully processed
// bucket. Calls are serialized.
func WithDone(f func(bucket string)) ProcessorOption {
	return func(p *Processor) {
		p.done = f
	}
}

// Processor handles parallel processing of buckets.
type Processor struct {
	processFunc ProcessFunc
	numWorkers  int
	done        func(string)
}

// NewProcessor creates a new Processor with one worker per CPU.
func NewProcessor(processFunc ProcessFunc, opts ...ProcessorOption) *Processor {
	p := &Processor{
		processFunc: processFunc,
		numWorkers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs all buckets. The first error cancels the remaining work and is
// returned.
func (p *Processor) Process(ctx context.Context, buckets []string) error {
	workChan := make(chan string, p.numWorkers*2)
	doneChan := make(chan string)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(workChan)
		for _, b := range buckets {
			select {
			case workChan <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	var wg sync.WaitGroup
	for i := 0; i < p.numWorkers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for b := range workChan {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := p.processFunc(ctx, b); err != nil {
					return err
				}
				select {
				case doneChan <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(doneChan)
	}()
	for b := range doneChan {
		if p.done != nil {
			p.done(b)
		}
	}
	return g.Wait()
}
