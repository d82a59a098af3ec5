// Package errs defines the error classes shared by the walrus packages.
//
// Every failure raised before I/O belongs to one class so callers can test
// for it with errors.Is regardless of which package produced it. Errors
// coming from the underlying redis channel are never wrapped or retried.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUsage reports a caller mistake such as committing with no open
	// transaction. It is never retried.
	ErrUsage = errors.New("walrus: usage error")

	// ErrInvalidArgument reports an argument rejected before any command
	// was sent.
	ErrInvalidArgument = errors.New("walrus: invalid argument")

	// ErrUnknownScript is returned when a script name was never registered.
	ErrUnknownScript = errors.New("walrus: unknown script")

	// ErrUnsupported is returned when the selected strategy or channel
	// cannot serve an operation.
	ErrUnsupported = errors.New("walrus: unsupported operation")

	// ErrPending is returned when a queued result is read before its
	// pipeline was committed.
	ErrPending = errors.New("walrus: result pending until commit")
)

// Usagef returns an error of class ErrUsage.
func Usagef(format string, args ...any) error {
	return classed(ErrUsage, format, args...)
}

// Invalidf returns an error of class ErrInvalidArgument.
func Invalidf(format string, args ...any) error {
	return classed(ErrInvalidArgument, format, args...)
}

// UnknownScript returns an error of class ErrUnknownScript naming the script.
func UnknownScript(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownScript, name)
}

// Unsupportedf returns an error of class ErrUnsupported.
func Unsupportedf(format string, args ...any) error {
	return classed(ErrUnsupported, format, args...)
}

func classed(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool {
	return errors.Is(err, ErrUsage)
}

// IsInvalid reports whether err is an invalid argument error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsCallerError reports whether err was raised by argument or usage
// validation, meaning nothing reached the store.
func IsCallerError(err error) bool {
	return IsUsage(err) || IsInvalid(err) || errors.Is(err, ErrUnknownScript)
}
