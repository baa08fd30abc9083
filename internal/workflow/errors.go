// Package workflow implements the stateful composites: discovery, drafting,
// queueing through the policy gateway, publishing approved items, thread
// planning, mention handling and direct mutations. Workflow never calls the
// provider directly; every platform call goes through the toolkit.
package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies workflow failures that are not toolkit errors.
type ErrorKind string

const (
	KindStorage     ErrorKind = "storage"
	KindGeneration  ErrorKind = "generation"
	KindStepAborted ErrorKind = "step_aborted"
	KindToolkit     ErrorKind = "toolkit"
	KindSafety      ErrorKind = "safety"
)

// Error reports which step of a composite failed. Err keeps the cause, so
// errors.As still reaches a *toolkit.Error or *provider.Error underneath.
type Error struct {
	Step string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workflow %s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func stepError(step string, kind ErrorKind, err error) *Error {
	return &Error{Step: step, Kind: kind, Err: err}
}

// StepOf returns the failed step named by the outermost workflow error.
func StepOf(err error) (string, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we.Step, true
	}
	return "", false
}

var (
	// ErrSafetyRejected is wrapped when generated text fails the safety filter.
	ErrSafetyRejected = errors.New("content rejected by safety filter")
	// ErrNotApproved is returned when publishing an item that is not approved.
	ErrNotApproved = errors.New("approval item is not approved")
	// ErrUnknownMutation is returned for a tool with no registered executor.
	ErrUnknownMutation = errors.New("unknown mutation tool")
)
