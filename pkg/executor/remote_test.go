package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/pkg/models"
)

func remoteFixtureRequest(t *testing.T) *models.Request {
	t.Helper()
	req, err := models.Lift(models.Description{
		Argv:    []string{"make", "dist"},
		Env:     []string{"CI=1"},
		Timeout: 2 * time.Second,
	}, models.ExecutionPolicy{Strategy: models.StrategyRemote})
	require.NoError(t, err)
	return req
}

func TestRemoteExecutorSuccess(t *testing.T) {
	req := remoteFixtureRequest(t)
	outcome := models.Outcome{
		ExitCode:     0,
		StdoutDigest: models.NewDigest([]byte("remote stdout")),
		StderrDigest: models.EmptyDigest,
		OutputRoot:   models.EmptyDigest,
		Metadata:     models.Metadata{Platform: "local", Source: models.SourceLocal},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/v1/execute", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := DecodeRemoteRequest(body)
		require.NoError(t, err)
		assert.Equal(t, req.Fingerprint(), decoded.Fingerprint(),
			"the wire form round-trips the request identity losslessly")

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(outcome))
	}))
	defer server.Close()

	exec := NewRemoteExecutor(server.URL)
	got, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.SourceRemote, got.Metadata.Source,
		"provenance reflects the remote hop regardless of what the peer reports")
	assert.Equal(t, outcome.StdoutDigest, got.StdoutDigest)
}

func TestRemoteExecutorPreservesPeerCacheHitProvenance(t *testing.T) {
	outcome := models.Outcome{
		ExitCode:     0,
		StdoutDigest: models.EmptyDigest,
		StderrDigest: models.EmptyDigest,
		OutputRoot:   models.EmptyDigest,
		Metadata:     models.Metadata{Platform: "local", Source: models.SourceCacheHit},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(outcome))
	}))
	defer server.Close()

	exec := NewRemoteExecutor(server.URL)
	got, err := exec.Execute(context.Background(), remoteFixtureRequest(t))
	require.NoError(t, err)

	assert.Equal(t, models.SourceCacheHit, got.Metadata.Source,
		"a peer action-cache hit stays labeled as a cache hit")
}

func TestRemoteExecutorPeerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"kind":  string(KindTimeout),
			"error": "process exceeded timeout of 2s",
		})
	}))
	defer server.Close()

	exec := NewRemoteExecutor(server.URL)
	_, err := exec.Execute(context.Background(), remoteFixtureRequest(t))
	require.Error(t, err)

	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindTimeout, ee.Kind, "structured peer failures keep their kind")
}

func TestRemoteExecutorServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	exec := NewRemoteExecutor(server.URL)
	_, err := exec.Execute(context.Background(), remoteFixtureRequest(t))
	require.Error(t, err)

	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindUnavailable, ee.Kind)
}

func TestRemoteExecutorUnreachablePeer(t *testing.T) {
	exec := NewRemoteExecutor("http://127.0.0.1:1") // nothing listens here

	_, err := exec.Execute(context.Background(), remoteFixtureRequest(t))
	require.Error(t, err)

	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindUnavailable, ee.Kind)
}
