package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session id or code was never issued.
	ErrNotFound = errors.New("session not found")
	// ErrGone is returned when a code belongs to an ended session. Clients
	// should render "quiz over", not "invalid code".
	ErrGone = errors.New("session has ended")
	// ErrInvalidTransition is returned for lifecycle commands issued in the
	// wrong state, e.g. starting an already-active session.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrUnauthorized is returned when a non-host calls a host-only operation.
	ErrUnauthorized = errors.New("operation restricted to session host")
)

// Rejection reasons for answer submissions.
const (
	RejectQuestionClosed   = "question_closed"
	RejectAlreadyAnswered  = "already_answered"
	RejectWrongQuestion    = "wrong_question"
	RejectSessionNotActive = "session_not_active"
)

// RejectionError reports why a submission was refused. Every rejection is
// recoverable and carries a reason subcode the client can show verbatim.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("submission rejected: %s", e.Reason)
}

// Reject builds a RejectionError with the given reason.
func Reject(reason string) error {
	return &RejectionError{Reason: reason}
}

// RejectionReason extracts the reason subcode if err is a RejectionError.
func RejectionReason(err error) (string, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
