package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/pkg/models"
)

// blockingExecutor counts invocations and holds each one until released.
type blockingExecutor struct {
	calls   atomic.Int64
	release chan struct{}
	outcome *models.Outcome
	err     error
}

func newBlockingExecutor(outcome *models.Outcome) *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{}), outcome: outcome}
}

func (b *blockingExecutor) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	b.calls.Add(1)
	<-b.release
	return b.outcome, b.err
}

func memoRequest(t *testing.T, argv ...string) *models.Request {
	t.Helper()
	req, err := models.Lift(models.Description{Argv: argv}, models.ExecutionPolicy{Strategy: models.StrategyLocal})
	require.NoError(t, err)
	return req
}

func TestMemoExecutesOnce(t *testing.T) {
	memo := NewMemo()
	outcome := &models.Outcome{ExitCode: 0, Metadata: models.Metadata{Source: models.SourceLocal}}
	exec := newBlockingExecutor(outcome)
	req := memoRequest(t, "go", "build", "./...")

	const callers = 16
	results := make([]*models.Outcome, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = memo.Do(context.Background(), req, exec)
		}(i)
	}

	// Let every caller attach before the single execution completes.
	assert.Eventually(t, func() bool { return exec.calls.Load() == 1 },
		time.Second, 5*time.Millisecond)
	close(exec.release)
	wg.Wait()

	assert.Equal(t, int64(1), exec.calls.Load(), "identical concurrent requests execute once")
	for i, got := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], got, "every caller observes the same outcome value")
	}
	assert.Equal(t, 1, memo.Len())
}

func TestMemoDistinctRequestsExecuteSeparately(t *testing.T) {
	memo := NewMemo()
	exec := newBlockingExecutor(&models.Outcome{})
	close(exec.release)

	_, err := memo.Do(context.Background(), memoRequest(t, "true"), exec)
	require.NoError(t, err)
	_, err = memo.Do(context.Background(), memoRequest(t, "false"), exec)
	require.NoError(t, err)

	assert.Equal(t, int64(2), exec.calls.Load())
	assert.Equal(t, 2, memo.Len())
}

func TestMemoCompletedNodeIsReused(t *testing.T) {
	memo := NewMemo()
	exec := newBlockingExecutor(&models.Outcome{ExitCode: 0})
	close(exec.release)
	req := memoRequest(t, "echo", "memoized")

	first, err := memo.Do(context.Background(), req, exec)
	require.NoError(t, err)
	second, err := memo.Do(context.Background(), req, exec)
	require.NoError(t, err)

	assert.Equal(t, int64(1), exec.calls.Load(), "a completed node serves later callers without re-executing")
	assert.Same(t, first, second)
}

func TestMemoFailureIsSharedByAllCallers(t *testing.T) {
	memo := NewMemo()
	exec := newBlockingExecutor(nil)
	exec.err = errors.New("sandbox creation failed")
	close(exec.release)
	req := memoRequest(t, "true")

	_, err1 := memo.Do(context.Background(), req, exec)
	_, err2 := memo.Do(context.Background(), req, exec)

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, err1, err2)
	assert.Equal(t, int64(1), exec.calls.Load(), "failed nodes are terminal, not retried")
}

func TestMemoCancelledCallerDetaches(t *testing.T) {
	memo := NewMemo()
	outcome := &models.Outcome{ExitCode: 0}
	exec := newBlockingExecutor(outcome)
	req := memoRequest(t, "sleep", "60")

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := memo.Do(cancelCtx, req, exec)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return exec.calls.Load() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	// The node keeps running; a patient caller still gets the outcome.
	close(exec.release)
	got, err := memo.Do(context.Background(), req, exec)
	require.NoError(t, err)
	assert.Same(t, outcome, got)
	assert.Equal(t, int64(1), exec.calls.Load(), "cancellation of every caller does not abort the execution")
}

func TestMemoForget(t *testing.T) {
	memo := NewMemo()
	exec := newBlockingExecutor(&models.Outcome{})
	close(exec.release)
	req := memoRequest(t, "true")

	_, err := memo.Do(context.Background(), req, exec)
	require.NoError(t, err)

	memo.Forget(req.Fingerprint())
	assert.Equal(t, 0, memo.Len())

	_, err = memo.Do(context.Background(), req, exec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), exec.calls.Load(), "a forgotten node starts fresh")
}
