package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine bounded by timeout. Panics are recovered and
// errors are logged instead of being returned.
//
// Example:
//
//	async.SafeGo(r.Context(), time.Minute, "directory sync", logger, func(ctx context.Context) error {
//	    _, err := scheduler.RunNow(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *logrus.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.New()
	}

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// Batch runs fn for every item with at most workers running at once and returns the
// error of each item by index (nil on success). A panicking item reports an error.
// Items not yet started when ctx is done report ctx.Err().
//
// Example:
//
//	errs := async.Batch(ctx, accountIDs, 4, func(ctx context.Context, id int64) error {
//	    return dispatcher.Notify(ctx, id, content)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	errs := make([]error, len(items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, item := range items {
		if ctx.Err() == nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
		}
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				errs[j] = err
			}
			break
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			errs[i] = fn(ctx, item)
		}(i, item)
	}

	wg.Wait()
	return errs
}
