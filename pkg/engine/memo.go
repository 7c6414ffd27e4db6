package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kiln/pkg/executor"
	"kiln/pkg/metrics"
	"kiln/pkg/models"
)

// ErrCancelled is returned when a caller detaches from an in-flight node
// before it completes. Only that caller is affected; the node keeps running
// for everyone else.
var ErrCancelled = errors.New("caller cancelled while awaiting execution")

// node is one memoization point. Its lifecycle is Unstarted (absent from the
// table) -> Running (installed, done open) -> Completed or Failed (done
// closed). Once done is closed the fields are immutable and every attached
// caller observes the same outcome or error.
type node struct {
	done    chan struct{}
	outcome *models.Outcome
	err     error
}

// Memo deduplicates logically identical in-flight requests. The table is
// owned by an Engine instance, not process-global; the install-under-lock in
// Do is the single-writer guarantee that prevents duplicate execution.
type Memo struct {
	mu    sync.Mutex
	nodes map[models.Fingerprint]*node
}

func NewMemo() *Memo {
	return &Memo{nodes: make(map[models.Fingerprint]*node)}
}

// Do returns the outcome for req, executing it via exec at most once no
// matter how many callers ask concurrently. The execution itself runs on a
// context detached from any caller: if every caller cancels, the process
// still runs to completion and its outcome is cached, since a later
// identical request can reuse it. A cancelled caller gets ErrCancelled;
// other attached callers are unaffected.
func (m *Memo) Do(ctx context.Context, req *models.Request, exec executor.Executor) (*models.Outcome, error) {
	fp := req.Fingerprint()

	m.mu.Lock()
	n, ok := m.nodes[fp]
	if !ok {
		n = &node{done: make(chan struct{})}
		m.nodes[fp] = n
		m.mu.Unlock()

		metrics.MemoMisses.Inc()
		metrics.MemoInFlight.Inc()
		go func() {
			defer metrics.MemoInFlight.Dec()
			defer close(n.done)
			n.outcome, n.err = exec.Execute(context.WithoutCancel(ctx), req)
		}()
	} else {
		m.mu.Unlock()
		metrics.MemoHits.Inc()
	}

	select {
	case <-n.done:
		return n.outcome, n.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// Forget drops the node for a fingerprint so the next identical request
// starts fresh. Used when the request's content is known to have changed,
// e.g. after an input invalidation.
func (m *Memo) Forget(fp models.Fingerprint) {
	m.mu.Lock()
	delete(m.nodes, fp)
	m.mu.Unlock()
}

// Len reports the number of memoized nodes.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}
