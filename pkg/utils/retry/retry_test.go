package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/utils/retry"
)

func noSleep(delays *[]time.Duration) retry.Option {
	return retry.WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestExponential(t *testing.T) {
	fn := retry.Exponential(100*time.Millisecond, time.Second)
	gt.Value(t, fn(0)).Equal(100 * time.Millisecond)
	gt.Value(t, fn(1)).Equal(200 * time.Millisecond)
	gt.Value(t, fn(2)).Equal(400 * time.Millisecond)
	gt.Value(t, fn(5)).Equal(time.Second)
}

func TestPolicy_Do(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var delays []time.Duration
		p := retry.New(retry.WithBackoff(retry.Exponential(10*time.Millisecond, 0)), noSleep(&delays))

		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		gt.NoError(t, err)
		gt.Value(t, calls).Equal(3)
		gt.Value(t, delays).Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond})
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var delays []time.Duration
		p := retry.New(noSleep(&delays))

		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("down")
		})
		gt.Value(t, err).NotNil()
		gt.Value(t, calls).Equal(4)
		gt.Array(t, delays).Length(3)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		var delays []time.Duration
		p := retry.New(noSleep(&delays))

		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return retry.Permanent(errors.New("bad request"))
		})
		gt.Error(t, err).Is(retry.ErrPermanent)
		gt.Value(t, calls).Equal(1)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := retry.New().Do(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
		gt.Error(t, err).Is(context.Canceled)
		gt.Value(t, calls).Equal(0)
	})
}
