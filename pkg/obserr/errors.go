// Package obserr holds the error taxonomy shared by every storage backend.
// Backend specific errors are translated into an *Error at the SDK boundary so
// that retry and condition handling never depend on a particular SDK.
package obserr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindRemote Kind = iota
	KindNotFound
	KindUnauthorized
	KindUnavailable
	KindConflict
	KindConditionNotMet
	KindConfiguration
	KindValidation
	KindFailedUpload
	KindFailedDownload
	KindInconsistentDownload
	KindObjectInColdStorage
	KindAlreadyRestored
	KindRestoreAlreadyInProgress
)

var kindNames = map[Kind]string{
	KindRemote:                   "RemoteError",
	KindNotFound:                 "NotFound",
	KindUnauthorized:             "Unauthorized",
	KindUnavailable:              "Unavailable",
	KindConflict:                 "Conflict",
	KindConditionNotMet:          "ConditionNotMet",
	KindConfiguration:            "ConfigurationError",
	KindValidation:               "ValidationError",
	KindFailedUpload:             "FailedUpload",
	KindFailedDownload:           "FailedDownload",
	KindInconsistentDownload:     "InconsistentDownload",
	KindObjectInColdStorage:      "ObjectInColdStorage",
	KindAlreadyRestored:          "AlreadyRestored",
	KindRestoreAlreadyInProgress: "RestoreAlreadyInProgress",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Failure describes one object that failed inside a batch operation.
type Failure struct {
	Key     string
	Code    string
	Message string
}

func (f Failure) String() string {
	if f.Code == "" {
		return fmt.Sprintf("%s: %s", f.Key, f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Key, f.Message, f.Code)
}

// Error is the normalized error returned by every path operation.
type Error struct {
	Kind    Kind
	Message string
	// Cause is the raw SDK or I/O error, if any.
	Cause error
	// Failures is set for aggregated batch errors (rmtree, upload, download).
	Failures []Failure
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " (%d failed, first: %s)", len(e.Failures), e.Failures[0])
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on kind: errors.Is(err, &obserr.Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// KindOf returns the kind of the first *Error in err's chain. Errors that did
// not pass through a normalizer are reported as KindRemote.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRemote
}

// Is reports whether err carries one of kinds.
func Is(err error, kinds ...Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, k := range kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

func Configuration(format string, args ...interface{}) *Error {
	return Newf(KindConfiguration, format, args...)
}
