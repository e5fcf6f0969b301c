package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/secmon-lab/mnemosyne/pkg/utils/errutil"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

var running sync.WaitGroup

// Dispatch runs handler in a new goroutine detached from the caller's cancellation.
// The caller's logger is carried over with the task name attached. A returned error
// or a panic is logged and reported through errutil.
func Dispatch(ctx context.Context, task string, handler func(ctx context.Context) error) {
	logger := logging.From(ctx).With("task", task)
	bgCtx := logging.With(context.WithoutCancel(ctx), logger)

	running.Add(1)
	go func() {
		defer running.Done()
		defer func() {
			if r := recover(); r != nil {
				_ = errutil.Handle(bgCtx, fmt.Errorf("panic: %v", r), "panic in background task")
			}
		}()

		if err := handler(bgCtx); err != nil {
			_ = errutil.Handle(bgCtx, err, "background task failed")
		}
	}()
}

// Wait blocks until every dispatched task has returned or ctx is done
func Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
