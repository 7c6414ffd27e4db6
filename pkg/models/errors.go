package models

import (
	"errors"
	"strings"
)

// StageError carries the ordered list of pipeline stages an error crossed on
// its way to the caller, plus the root cause. Each boundary adds one label,
// so a caller can see which stage failed without inspecting internals, e.g.
// "Error lifting Process: invalid process timeout: negative timeout -1s".
type StageError struct {
	Stages []string
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	for _, s := range e.Stages {
		b.WriteString(s)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// Enrich prepends a stage label to err, flattening nested StageErrors so the
// chain stays a single ordered list. A nil err enriches to nil.
func Enrich(err error, stage string) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return &StageError{
			Stages: append([]string{stage}, se.Stages...),
			Err:    se.Err,
		}
	}
	return &StageError{Stages: []string{stage}, Err: err}
}
