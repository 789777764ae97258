package async_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cherrycap/internal/pkg/async"
)

func TestPoolExecute(t *testing.T) {
	t.Run("joins every task by name", func(t *testing.T) {
		pool := async.NewPool(3)
		boom := errors.New("query failed")

		results := pool.Execute(context.Background(), []async.Task{
			{Name: "a", Execute: func() (any, error) { return 1, nil }},
			{Name: "b", Execute: func() (any, error) { return 2, nil }},
			{Name: "c", Execute: func() (any, error) { return nil, boom }},
		})

		require.Len(t, results, 3)
		assert.Equal(t, 1, results["a"].Data)
		assert.Equal(t, 2, results["b"].Data)
		assert.ErrorIs(t, results["c"].Err, boom)
		assert.ErrorIs(t, async.FirstError(results), boom)
	})

	t.Run("no errors yields no first error", func(t *testing.T) {
		pool := async.NewPool(1)
		results := pool.Execute(context.Background(), []async.Task{
			{Name: "only", Execute: func() (any, error) { return "ok", nil }},
		})
		assert.NoError(t, async.FirstError(results))
	})

	t.Run("cancellation does not strand workers mid-send", func(t *testing.T) {
		before := runtime.NumGoroutine()

		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})
		blocked := func() (any, error) {
			<-release
			return nil, nil
		}

		pool := async.NewPool(2)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		results := pool.Execute(ctx, []async.Task{
			{Name: "a", Execute: blocked},
			{Name: "b", Execute: blocked},
		})
		assert.Empty(t, results, "cancelled execution returns before any task finishes")

		// Unblock the in-flight tasks now that nobody is reading results.
		close(release)
		assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before+1
		}, time.Second, 10*time.Millisecond, "workers exit after cancellation")
	})
}
