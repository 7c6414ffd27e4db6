package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrichBuildsOrderedChain(t *testing.T) {
	root := errors.New("connection refused")

	err := Enrich(root, "Bytes from stdout")
	err = Enrich(err, "Error executing Process")

	assert.Equal(t, "Error executing Process: Bytes from stdout: connection refused", err.Error())
	assert.True(t, errors.Is(err, root), "the root cause stays reachable through Unwrap")
}

func TestEnrichFlattensNestedStageErrors(t *testing.T) {
	root := errors.New("disk full")
	inner := Enrich(root, "inner")
	outer := Enrich(inner, "outer")

	var se *StageError
	assert.True(t, errors.As(outer, &se))
	assert.Equal(t, []string{"outer", "inner"}, se.Stages)
	assert.Same(t, root, se.Err)
}

func TestEnrichNil(t *testing.T) {
	assert.NoError(t, Enrich(nil, "anything"))
}
