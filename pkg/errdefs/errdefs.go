// Package errdefs defines the error kinds surfaced by the resolution
// engine. Callers branch on kind with the Is* predicates; everything
// else about an error is message text.
package errdefs

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrCommandFailed covers spawn errors, non-zero exits and
	// timeouts of external tools.
	ErrCommandFailed = stderrors.New("command execution failed")

	ErrProcessNotFound  = stderrors.New("no such process")
	ErrPortNotFound     = stderrors.New("not in use")
	ErrPermissionDenied = stderrors.New("operation not permitted")
	ErrInvalidPort      = stderrors.New("invalid port")
	ErrParseFailure     = stderrors.New("parse failure")
	ErrIO               = stderrors.New("i/o failure")
)

// CommandFailedf builds a command-execution failure.
func CommandFailedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCommandFailed, format, args...)
}

// PortNotFound reports that nothing is listening on port.
func PortNotFound(port uint16) error {
	return errors.Wrapf(ErrPortNotFound, "port %d", port)
}

// ProcessNotFound reports that pid does not exist (any more).
func ProcessNotFound(pid uint32) error {
	return errors.Wrapf(ErrProcessNotFound, "pid %d", pid)
}

// PermissionDeniedf builds a permission failure.
func PermissionDeniedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPermissionDenied, format, args...)
}

// InvalidPortf builds a validation failure for a port or related
// selector argument.
func InvalidPortf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidPort, format, args...)
}

// ParseFailuref builds a failure for tool output that could not be
// understood at all.
func ParseFailuref(format string, args ...interface{}) error {
	return errors.Wrapf(ErrParseFailure, format, args...)
}

// WrapIO tags err as an I/O failure, keeping its message.
func WrapIO(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.WithMessage(ErrIO, err.Error()), msg)
}

func IsCommandFailed(err error) bool    { return stderrors.Is(err, ErrCommandFailed) }
func IsProcessNotFound(err error) bool  { return stderrors.Is(err, ErrProcessNotFound) }
func IsPortNotFound(err error) bool     { return stderrors.Is(err, ErrPortNotFound) }
func IsPermissionDenied(err error) bool { return stderrors.Is(err, ErrPermissionDenied) }
func IsInvalidPort(err error) bool      { return stderrors.Is(err, ErrInvalidPort) }
func IsParseFailure(err error) bool     { return stderrors.Is(err, ErrParseFailure) }
func IsIO(err error) bool               { return stderrors.Is(err, ErrIO) }

// IsUncategorized reports whether err carries none of the defined
// kinds. Nil is not uncategorized.
func IsUncategorized(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{
		ErrCommandFailed, ErrProcessNotFound, ErrPortNotFound,
		ErrPermissionDenied, ErrInvalidPort, ErrParseFailure, ErrIO,
	} {
		if stderrors.Is(err, kind) {
			return false
		}
	}
	return true
}
