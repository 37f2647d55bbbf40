package submission

import (
	"errors"
	"fmt"
)

// Kind classifies failures that propagate to the caller.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindBuild          Kind = "build"
	KindInfrastructure Kind = "infrastructure"
	KindPublish        Kind = "publish"
	// KindCanceled marks work abandoned because the caller's context ended.
	KindCanceled Kind = "canceled"
)

// Sentinel errors usable with errors.Is against any *Error of the same kind.
var (
	ErrValidation     = errors.New("invalid submission")
	ErrBuild          = errors.New("image build failed")
	ErrInfrastructure = errors.New("container infrastructure failure")
	ErrPublish        = errors.New("result publish failed")
	ErrCanceled       = errors.New("processing canceled")
)

var sentinels = map[Kind]error{
	KindValidation:     ErrValidation,
	KindBuild:          ErrBuild,
	KindInfrastructure: ErrInfrastructure,
	KindPublish:        ErrPublish,
	KindCanceled:       ErrCanceled,
}

// Error is a classified processing failure.
type Error struct {
	Kind         Kind
	SubmissionID string
	Err          error
}

// NewError wraps err with the given kind.
func NewError(kind Kind, submissionID string, err error) *Error {
	return &Error{Kind: kind, SubmissionID: submissionID, Err: err}
}

func (e *Error) Error() string {
	if e.SubmissionID == "" {
		return fmt.Sprintf("%s: %v", sentinels[e.Kind], e.Err)
	}
	return fmt.Sprintf("submission %s: %s: %v", e.SubmissionID, sentinels[e.Kind], e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}
