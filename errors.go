package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Structural and lookup errors.
var (
	ErrInvalidGraph     = errors.New("flow: graph failed validation")
	ErrFlowNotFound     = errors.New("flow: flow not found")
	ErrVersionNotFound  = errors.New("flow: version not found")
	ErrSessionNotFound  = errors.New("flow: session not found")
	ErrNodeNotFound     = errors.New("flow: node not found")
	ErrVersionMismatch  = errors.New("flow: version belongs to another flow")
	ErrConflict         = errors.New("flow: concurrent update, reload and retry")
	ErrNotRedirectable  = errors.New("flow: session did not end on a redirecting node")
	ErrAutoAdvanceLimit = errors.New("flow: too many automatic steps without reaching a question")
)

// Traversal errors. They are returned as values by StepNode and surface to the
// respondent as client errors; the session is left where it was.
var (
	ErrUnroutedHandle   = errors.New("flow: unrouted handle")
	ErrInvalidAnswer    = errors.New("flow: invalid answer")
	ErrNoMatchingHandle = errors.New("flow: no matching handle")
	ErrAmbiguousRoute   = errors.New("flow: more than one edge for handle")
	ErrTypeMismatch     = errors.New("flow: type mismatch")
	ErrDivideByZero     = errors.New("flow: divide by zero")
	ErrNotFinite        = errors.New("flow: result is not a finite number")
)

// Session lifecycle errors.
var (
	ErrNoActiveVersion        = errors.New("flow: flow has no active version")
	ErrStaleStep              = errors.New("flow: answer is not for the current node")
	ErrSessionAlreadyComplete = errors.New("flow: session already complete")
)

// IsTraversalError reports whether err was caused by answering against the
// graph rather than by the store or the session lifecycle.
func IsTraversalError(err error) bool {
	for _, target := range []error{
		ErrUnroutedHandle, ErrInvalidAnswer, ErrNoMatchingHandle,
		ErrAmbiguousRoute, ErrTypeMismatch, ErrDivideByZero, ErrNotFinite,
		ErrAutoAdvanceLimit,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ValidationError carries the hard errors that stopped a publish.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		msgs = append(msgs, is.String())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidGraph, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidGraph }
