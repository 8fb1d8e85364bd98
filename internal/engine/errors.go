package engine

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned when an action is submitted after Leave.
var ErrClientClosed = errors.New("engine: client closed")

// ActionError explains why a local action was refused. Refusals never
// reach the peer; they surface on the View and in the log.
type ActionError struct {
	// Code identifies the refusal category.
	Code ActionErrorCode

	// Action is the refused action ("choose", "edit", "join").
	Action string

	// Message is a human-readable description.
	Message string
}

// ActionErrorCode categorizes refused actions.
type ActionErrorCode string

const (
	// ErrCodeNotActive: the session has no state yet, or has ended.
	ErrCodeNotActive ActionErrorCode = "NOT_ACTIVE"

	// ErrCodeNotReady: the other role is not connected.
	ErrCodeNotReady ActionErrorCode = "NOT_READY"

	// ErrCodeNotYourTurn: the turn belongs to the other role.
	ErrCodeNotYourTurn ActionErrorCode = "NOT_YOUR_TURN"

	// ErrCodeNoSuchChoice: the current scene has no choice at that index.
	ErrCodeNoSuchChoice ActionErrorCode = "NO_SUCH_CHOICE"

	// ErrCodeNotAuthor: only the author may edit a message.
	ErrCodeNotAuthor ActionErrorCode = "NOT_AUTHOR"

	// ErrCodeUnknownMessage: no log entry has that id.
	ErrCodeUnknownMessage ActionErrorCode = "UNKNOWN_MESSAGE"
)

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, e.Message)
}

func newActionError(action string, code ActionErrorCode, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Action: action, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err is (or wraps) an ActionError with code.
func HasCode(err error, code ActionErrorCode) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsNotYourTurn returns true if the action was refused because of the turn.
func IsNotYourTurn(err error) bool {
	return HasCode(err, ErrCodeNotYourTurn)
}

// IsNotReady returns true if the action was refused because the peer is
// not connected.
func IsNotReady(err error) bool {
	return HasCode(err, ErrCodeNotReady)
}
