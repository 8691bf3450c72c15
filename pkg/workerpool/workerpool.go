// Package workerpool provides simple concurrent processing utilities.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// ResolveWorkerCount maps a requested worker count onto the machine: -2
// means all virtual cores but one, any other negative value or a value above
// the core count means all cores, and zero means a single worker.
func ResolveWorkerCount(requested int) int {
	cores := runtime.NumCPU()
	switch {
	case requested == -2:
		if cores > 1 {
			return cores - 1
		}
		return 1
	case requested < 0 || requested > cores:
		return cores
	case requested == 0:
		return 1
	default:
		return requested
	}
}

// Process runs a worker pool over the provided work items, invoking process for each.
// If process returns an error, the pool cancels the context and stops further work.
func Process[T any](
	ctx context.Context,
	workerCount int,
	items []T,
	process func(context.Context, T) error,
	onCancel func(),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan T, workerCount)
	errs := make(chan error, workerCount)
	wg := sync.WaitGroup{}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-tasks:
					if !ok {
						return
					}
					if err := process(ctx, item); err != nil {
						select {
						case errs <- err:
						default:
						}
						if onCancel != nil {
							onCancel()
						}
						cancel()
						return
					}
				}
			}
		}()
	}

	go func() {
		for _, item := range items {
			select {
			case <-ctx.Done():
				close(tasks)
				return
			case tasks <- item:
			}
		}
		close(tasks)
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}
