package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kiln/pkg/models"
	"kiln/pkg/resilience"
)

// remoteRequest is the wire form of a Request for the peer execute endpoint.
// The canonical Request round-trips losslessly through it.
type remoteRequest struct {
	Argv        []string               `json:"argv"`
	Env         map[string]string      `json:"env"`
	WorkingDir  string                 `json:"working_dir"`
	InputRoot   models.Digest          `json:"input_root"`
	OutputPaths []string               `json:"output_paths"`
	TimeoutMS   int64                  `json:"timeout_ms"`
	Policy      models.ExecutionPolicy `json:"policy"`
}

// remoteFailure is the error body returned by a peer.
type remoteFailure struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// RemoteExecutor delegates execution to a peer engine's internal execute
// endpoint. Both engines must share a content store (e.g. the same S3
// bucket) so the digests in a remote outcome are retrievable here. Transport
// failures and 5xx responses count against a circuit breaker; an open
// breaker fails fast with an unavailable error instead of hammering a dead
// peer.
type RemoteExecutor struct {
	endpoint string
	client   *http.Client
	breaker  *resilience.Breaker
}

func NewRemoteExecutor(endpoint string) *RemoteExecutor {
	return &RemoteExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 0}, // request timeout is the process timeout, enforced remotely
		breaker:  resilience.NewBreaker("remote-executor", resilience.DefaultBreakerConfig()),
	}
}

func (r *RemoteExecutor) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	var outcome *models.Outcome
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = r.roundTrip(ctx, req)
		return err
	})
	if err == resilience.ErrBreakerOpen {
		return nil, execErrorf(KindUnavailable, "remote backend %s: %v", r.endpoint, err)
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *RemoteExecutor) roundTrip(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	payload, err := EncodeRemoteRequest(req)
	if err != nil {
		return nil, execErrorf(KindUnavailable, "failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.endpoint+"/internal/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, execErrorf(KindUnavailable, "failed to build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, execErrorf(KindUnavailable, "remote backend %s unreachable: %v", r.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, execErrorf(KindUnavailable, "failed to read remote response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var outcome models.Outcome
		if err := json.Unmarshal(body, &outcome); err != nil {
			return nil, execErrorf(KindUnavailable, "malformed remote outcome: %v", err)
		}
		// The peer may have served its own action-cache hit; that provenance
		// survives the hop. Only an actual peer execution is relabeled.
		if outcome.Metadata.Source != models.SourceCacheHit {
			outcome.Metadata.Source = models.SourceRemote
		}
		return &outcome, nil
	case resp.StatusCode >= 500:
		return nil, execErrorf(KindUnavailable, "remote backend %s returned %d: %s", r.endpoint, resp.StatusCode, truncate(body))
	default:
		// 4xx carries a structured executor failure from the peer.
		var failure remoteFailure
		if err := json.Unmarshal(body, &failure); err == nil && failure.Kind != "" {
			return nil, &ExecutionError{
				Kind: ErrorKind(failure.Kind),
				Err:  fmt.Errorf("remote: %s", failure.Error),
			}
		}
		return nil, execErrorf(KindUnavailable, "remote backend %s rejected request (%d): %s", r.endpoint, resp.StatusCode, truncate(body))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// EncodeRemoteRequest renders a Request in its wire form.
func EncodeRemoteRequest(req *models.Request) ([]byte, error) {
	return json.Marshal(remoteRequest{
		Argv:        req.Argv,
		Env:         req.Env,
		WorkingDir:  req.WorkingDir,
		InputRoot:   req.InputRoot,
		OutputPaths: req.OutputPaths,
		TimeoutMS:   req.Timeout.Milliseconds(),
		Policy:      req.Policy,
	})
}

// DecodeRemoteRequest reconstructs a Request from the wire form. Used by the
// API server's execute handler.
func DecodeRemoteRequest(body []byte) (*models.Request, error) {
	var wire remoteRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("malformed execute payload: %w", err)
	}
	return &models.Request{
		Argv:        wire.Argv,
		Env:         wire.Env,
		WorkingDir:  wire.WorkingDir,
		InputRoot:   wire.InputRoot,
		OutputPaths: wire.OutputPaths,
		Timeout:     time.Duration(wire.TimeoutMS) * time.Millisecond,
		Policy:      wire.Policy,
	}, nil
}
