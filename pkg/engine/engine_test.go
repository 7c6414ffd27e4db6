package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// memoryRunStore collects provenance rows in memory.
type memoryRunStore struct {
	mu      sync.Mutex
	records []*models.RunRecord
}

func (m *memoryRunStore) RecordRun(ctx context.Context, rec *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRunStore) ListRuns(ctx context.Context, fp models.Fingerprint, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunRecord
	for _, rec := range m.records {
		if rec.Fingerprint == string(fp) {
			out = append(out, *rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestEngineSubmitEndToEnd(t *testing.T) {
	runs := &memoryRunStore{}
	eng := New(Config{Store: storage.NewMemoryContentStore(), Runs: runs})

	result, err := eng.Submit(context.Background(),
		models.Description{Argv: []string{"echo", "hi"}},
		models.ExecutionPolicy{Strategy: models.StrategyLocal},
	)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hi\n", string(result.Stdout))
	assert.Empty(t, result.Stderr)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Equal(t, eng.RunID(), result.Metadata.RunID)

	require.Len(t, runs.records, 1)
	assert.Equal(t, "echo hi", runs.records[0].Argv)
	assert.Equal(t, 0, runs.records[0].ExitCode)
}

func TestEngineSubmitLiftErrorStage(t *testing.T) {
	eng := New(Config{Store: storage.NewMemoryContentStore()})

	_, err := eng.Submit(context.Background(),
		models.Description{Argv: []string{"true"}, Timeout: -time.Second},
		models.ExecutionPolicy{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error lifting Process")

	var le *models.LiftError
	assert.True(t, errors.As(err, &le), "the lift error stays reachable through the stage chain")
}

func TestEngineSubmitSelectorErrorStage(t *testing.T) {
	eng := New(Config{Store: storage.NewMemoryContentStore()})

	_, err := eng.Submit(context.Background(),
		models.Description{Argv: []string{"true"}},
		models.ExecutionPolicy{Strategy: models.StrategyRemote},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error selecting executor")
}

func TestEngineSubmitExecutionErrorStage(t *testing.T) {
	eng := New(Config{Store: storage.NewMemoryContentStore()})

	_, err := eng.Submit(context.Background(),
		models.Description{Argv: []string{"/nonexistent/kiln-test-binary"}},
		models.ExecutionPolicy{Strategy: models.StrategyLocal},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error executing Process")
}

func TestEngineSubmitDeduplicatesIdenticalWork(t *testing.T) {
	runs := &memoryRunStore{}
	eng := New(Config{Store: storage.NewMemoryContentStore(), Runs: runs})

	desc := models.Description{
		Argv: []string{"sh", "-c", "echo $$"}, // prints its own pid
	}
	policy := models.ExecutionPolicy{Strategy: models.StrategyLocal}

	const callers = 8
	results := make([]*models.ProcessResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Submit(context.Background(), desc, policy)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	for i := 1; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(results[0].Stdout), string(results[i].Stdout),
			"identical submissions share one underlying execution")
	}
	assert.Len(t, runs.records, 1, "one execution records one provenance row")
}

func TestEngineRecordsOncePerExecution(t *testing.T) {
	runs := &memoryRunStore{}
	eng := New(Config{Store: storage.NewMemoryContentStore(), Runs: runs})

	desc := models.Description{Argv: []string{"echo", "recorded"}}
	policy := models.ExecutionPolicy{Strategy: models.StrategyLocal}

	_, err := eng.Submit(context.Background(), desc, policy)
	require.NoError(t, err)
	_, err = eng.Submit(context.Background(), desc, policy)
	require.NoError(t, err)

	assert.Len(t, runs.records, 1,
		"a submit that attaches to a completed node does not record again")
}

func TestEngineRunsWithoutStore(t *testing.T) {
	eng := New(Config{Store: storage.NewMemoryContentStore()})

	records, err := eng.Runs(context.Background(), "deadbeef", 10)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestEngineExecuteForPeerUsesLocalStack(t *testing.T) {
	store := storage.NewMemoryContentStore()
	// A remote endpoint is configured, but the peer path must not bounce the
	// request back out.
	eng := New(Config{Store: store, RemoteEndpoint: "http://127.0.0.1:1"})

	req, err := models.Lift(
		models.Description{Argv: []string{"echo", "peer"}},
		models.ExecutionPolicy{Strategy: models.StrategyRemote},
	)
	require.NoError(t, err)

	outcome, err := eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, outcome.Metadata.Source)

	stdout, err := store.Load(context.Background(), outcome.StdoutDigest)
	require.NoError(t, err)
	assert.Equal(t, "peer\n", string(stdout))
}
