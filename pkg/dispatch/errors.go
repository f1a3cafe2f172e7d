package dispatch

import (
	"fmt"
	"strings"

	"github.com/queryflowproject/queryflow/pkg/routing"
)

// DispatchError reports a failed submit to one server. The remaining servers
// may already hold the query, so a DispatchError is always followed by a
// best-effort cancel.
type DispatchError struct {
	RequestID int64
	Server    routing.ServerInstance
	Cause     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("error dispatching query %d to server %s: %v", e.RequestID, e.Server, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// ExplainError reports a failed explain round-trip to one server.
type ExplainError struct {
	RequestID int64
	Server    routing.ServerInstance
	Cause     error
}

func (e *ExplainError) Error() string {
	return fmt.Sprintf("error explaining query %d on server %s: %v", e.RequestID, e.Server, e.Cause)
}

func (e *ExplainError) Unwrap() error { return e.Cause }

// TimeoutError reports that the query deadline expired during the named
// phase of dispatch.
type TimeoutError struct {
	RequestID int64
	Phase     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out during %s of query %d", e.Phase, e.RequestID)
}

// ReduceError carries the worker-reported errors that terminated the result
// stream.
type ReduceError struct {
	RequestID  int64
	Exceptions []string
}

func (e *ReduceError) Error() string {
	return fmt.Sprintf("query %d failed: %s", e.RequestID, strings.Join(e.Exceptions, "; "))
}

// InvariantError reports a malformed dispatchable plan.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return e.Reason }
