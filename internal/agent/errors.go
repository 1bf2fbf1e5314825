// ABOUTME: Error values returned by the agent orchestrator.
// ABOUTME: StepTimeoutError carries the step, its pending agents and the wait that expired.

package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStepTimeout indicates a barrier wait expired. If the step was still
	// current the barrier has already been forced forward.
	ErrStepTimeout = errors.New("step timeout")
	// ErrCredentialsExpired indicates the security context is past its expiry.
	// The agent must be rebuilt with a fresh token.
	ErrCredentialsExpired = errors.New("credentials expired")
	// ErrNotStarted indicates an operation that needs the dispatch loop.
	ErrNotStarted = errors.New("agent not started")
	// ErrInvalidAgentID indicates an id that cannot be used as a subject token.
	ErrInvalidAgentID = errors.New("invalid agent id")
	// ErrSubjectMismatch indicates a coordination envelope that disagrees with
	// the subject it was published on.
	ErrSubjectMismatch = errors.New("envelope does not match subject")
)

// StepTimeoutError reports which agents failed to complete a step in time.
type StepTimeoutError struct {
	Step    uint64
	Pending []string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d timed out after %s, pending agents: [%s]",
		e.Step, e.Timeout, strings.Join(e.Pending, ", "))
}

// Is makes errors.Is(err, ErrStepTimeout) true for any *StepTimeoutError.
func (e *StepTimeoutError) Is(target error) bool {
	return target == ErrStepTimeout
}
