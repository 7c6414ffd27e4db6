package executor

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/pkg/models"
	"kiln/pkg/storage"
)

func TestSelectorLocalOnly(t *testing.T) {
	sel := NewSelector(Options{Store: storage.NewMemoryContentStore(), RunID: uuid.New()})

	exec, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyLocal})
	require.NoError(t, err)
	assert.NotNil(t, exec)

	// Auto falls back to local when no peer is configured.
	auto, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyAuto})
	require.NoError(t, err)
	assert.Same(t, exec, auto)

	_, err = sel.For(models.ExecutionPolicy{Strategy: models.StrategyRemote})
	require.Error(t, err)
	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindUnavailable, ee.Kind)
}

func TestSelectorAutoPrefersRemote(t *testing.T) {
	sel := NewSelector(Options{
		Store:          storage.NewMemoryContentStore(),
		RemoteEndpoint: "http://peer.internal:8080",
		RunID:          uuid.New(),
	})

	remote, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyRemote})
	require.NoError(t, err)
	auto, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyAuto})
	require.NoError(t, err)
	assert.Same(t, remote, auto)

	local, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyLocal})
	require.NoError(t, err)
	assert.NotSame(t, remote, local)
	assert.Same(t, local, sel.Local())
}

func TestSelectorWrapsWithCache(t *testing.T) {
	sel := NewSelector(Options{
		Store: storage.NewMemoryContentStore(),
		Cache: newMemoryActionCache(),
		RunID: uuid.New(),
	})

	exec, err := sel.For(models.ExecutionPolicy{Strategy: models.StrategyLocal})
	require.NoError(t, err)
	_, ok := exec.(*CachedExecutor)
	assert.True(t, ok, "configured cache decorates every backend")
}
