package job

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy the harness classifies every job fault into.
type Kind string

const (
	KindRetryable          Kind = "retryable"
	KindPermanent          Kind = "permanent"
	KindIgnorable          Kind = "ignorable"
	KindJustEnd            Kind = "just_end"
	KindJustResolve        Kind = "just_resolve"
	KindNonNotifiable      Kind = "non_notifiable"
	KindVerificationFailed Kind = "verification_failed"
	KindChildFailure       Kind = "child_failure"
)

// Fault is the typed error a job body (or the harness itself, e.g. on
// DoubleCheck) raises to drive classification. Built on pkg/errors so a
// job can wrap a lower-level exchange error and still preserve its
// stack (errors.Wrap/errors.Cause).
type Fault struct {
	Kind    Kind
	Message string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// New constructs a Fault of the given kind, wrapping cause if non-nil.
func New(kind Kind, message string, cause error) *Fault {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, message)
	}
	return &Fault{Kind: kind, Message: message, cause: wrapped}
}

func Retryable(message string, cause error) *Fault { return New(KindRetryable, message, cause) }
func Permanent(message string, cause error) *Fault { return New(KindPermanent, message, cause) }
func Ignorable(message string, cause error) *Fault { return New(KindIgnorable, message, cause) }
func JustEnd(message string) *Fault               { return New(KindJustEnd, message, nil) }
func JustResolve(message string, cause error) *Fault {
	return New(KindJustResolve, message, cause)
}
func NonNotifiable(message string, cause error) *Fault {
	return New(KindNonNotifiable, message, cause)
}
func VerificationFailed(message string) *Fault {
	return New(KindVerificationFailed, message, nil)
}
func ChildFailure(message string) *Fault { return New(KindChildFailure, message, nil) }

// Classify extracts the Fault from err, defaulting unrecognised errors to
// Retryable — anything a job body returns that isn't already one of the
// closed kinds above is treated conservatively as transient rather than
// silently swallowed.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return Retryable("unclassified error", err)
}
