package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiln/pkg/engine"
	"kiln/pkg/executor"
	"kiln/pkg/models"
)

// --- Request/Response DTOs ---

// SubmitProcessRequest is the payload for submitting a process.
type SubmitProcessRequest struct {
	Argv          []string               `json:"argv" binding:"required"`
	Env           []string               `json:"env"`
	WorkingDir    string                 `json:"working_dir"`
	InputRootHash string                 `json:"input_root_hash"`
	InputRootSize int64                  `json:"input_root_size"`
	OutputPaths   []string               `json:"output_paths"`
	TimeoutMS     int64                  `json:"timeout_ms"`
	Policy        models.ExecutionPolicy `json:"policy"`
}

// ProcessResultResponse is the API representation of a materialized result.
type ProcessResultResponse struct {
	ExitCode     int             `json:"exit_code"`
	Stdout       string          `json:"stdout"`
	StdoutDigest models.Digest   `json:"stdout_digest"`
	Stderr       string          `json:"stderr"`
	StderrDigest models.Digest   `json:"stderr_digest"`
	OutputRoot   models.Digest   `json:"output_root"`
	Metadata     models.Metadata `json:"metadata"`
}

// --- Process Handlers ---

// submitProcess handles POST /api/v1/processes
func (s *Server) submitProcess(c *gin.Context) {
	var req SubmitProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	desc := models.Description{
		Argv:          req.Argv,
		Env:           req.Env,
		WorkingDir:    req.WorkingDir,
		InputRootHash: req.InputRootHash,
		InputRootSize: req.InputRootSize,
		OutputPaths:   req.OutputPaths,
		Timeout:       time.Duration(req.TimeoutMS) * time.Millisecond,
	}

	result, err := s.engine.Submit(c.Request.Context(), desc, req.Policy)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ProcessResultResponse{
		ExitCode:     result.ExitCode,
		Stdout:       string(result.Stdout),
		StdoutDigest: result.StdoutDigest,
		Stderr:       string(result.Stderr),
		StderrDigest: result.StderrDigest,
		OutputRoot:   result.OutputRoot,
		Metadata:     result.Metadata,
	})
}

// listRuns handles GET /api/v1/processes/:fingerprint/runs
func (s *Server) listRuns(c *gin.Context) {
	fp := models.Fingerprint(c.Param("fingerprint"))

	runs, err := s.engine.Runs(c.Request.Context(), fp, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// executeForPeer handles POST /internal/v1/execute: a remote executor on a
// peer engine delegating a request here. The response is the raw outcome;
// the peer materializes from the shared content store itself.
func (s *Server) executeForPeer(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body: " + err.Error()})
		return
	}

	req, err := executor.DecodeRemoteRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := s.engine.Execute(c.Request.Context(), req)
	if err != nil {
		var execErr *executor.ExecutionError
		if errors.As(err, &execErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"kind":  string(execErr.Kind),
				"error": execErr.Err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// statusForError maps pipeline failures onto HTTP statuses.
func statusForError(err error) int {
	var liftErr *models.LiftError
	if errors.As(err, &liftErr) {
		return http.StatusBadRequest
	}
	var execErr *executor.ExecutionError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case executor.KindTimeout:
			return http.StatusGatewayTimeout
		case executor.KindUnavailable:
			return http.StatusBadGateway
		default:
			return http.StatusUnprocessableEntity
		}
	}
	if errors.Is(err, engine.ErrCancelled) {
		return 499 // client closed request
	}
	return http.StatusInternalServerError
}
