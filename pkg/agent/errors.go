// Package agent implements the specialized pipeline agents: query
// understanding, data analysis, insight synthesis, visualization, and user
// preferences. Agents raise typed errors and never retry on their own; the
// orchestrator owns the retry policy.
package agent

import (
	"errors"
	"fmt"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/sqlguard"
)

// ErrorKind classifies a pipeline failure for retry decisions and API
// surfacing.
type ErrorKind string

const (
	// ErrorKindIntentParse: the model output could not be validated as an
	// Intent. User-correctable, never retried.
	ErrorKindIntentParse ErrorKind = "intent_parse"

	// ErrorKindUnsafeQuery: the SQL guard rejected a generated plan. Fatal
	// for that plan; a stage retry regenerates the plan from scratch.
	ErrorKindUnsafeQuery ErrorKind = "unsafe_query"

	// ErrorKindQueryExecution: the database collaborator failed or timed
	// out. Transient, retryable.
	ErrorKindQueryExecution ErrorKind = "query_execution"

	// ErrorKindModelTimeout: the model gateway timed out. Transient,
	// retryable.
	ErrorKindModelTimeout ErrorKind = "model_timeout"

	// ErrorKindModelQuota: the model backend rejected the call for quota
	// reasons. Retryable with longer backoff.
	ErrorKindModelQuota ErrorKind = "model_quota"

	// ErrorKindAuth: the caller could not be authenticated. Fatal, never
	// retried.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindInternal: anything else. Not retried.
	ErrorKindInternal ErrorKind = "internal"
)

// PipelineError is the typed error every agent raises. The originating kind
// is preserved through the orchestrator to the API layer for observability.
type PipelineError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator's stage retry budget applies.
// Unsafe-query failures are retryable because retrying the planning stage
// regenerates the plan; the rejected plan itself is never re-executed.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case ErrorKindQueryExecution, ErrorKindModelTimeout, ErrorKindModelQuota, ErrorKindUnsafeQuery:
		return true
	}
	return false
}

// NewError wraps err with a kind and the stage it originated from.
func NewError(kind ErrorKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// Classify maps collaborator errors to a PipelineError, defaulting to the
// given kind when no more specific classification applies.
func Classify(stage string, defaultKind ErrorKind, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	var unsafe *sqlguard.UnsafeQueryError
	switch {
	case errors.As(err, &unsafe):
		return NewError(ErrorKindUnsafeQuery, stage, err)
	case errors.Is(err, llm.ErrTimeout):
		return NewError(ErrorKindModelTimeout, stage, err)
	case errors.Is(err, llm.ErrQuotaExceeded):
		return NewError(ErrorKindModelQuota, stage, err)
	}
	return NewError(defaultKind, stage, err)
}

// KindOf extracts the error kind, or ErrorKindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindInternal
}

// IsRetryable reports whether err carries a retryable pipeline kind.
func IsRetryable(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Retryable()
}
