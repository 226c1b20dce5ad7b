// Package rfterr carries the RFT error codes (spec.md §6, §7) as a
// typed error, in the shape of the teacher's internal/qerr package.
package rfterr

import "fmt"

// Code is the 8-bit error code carried on the wire by an Error frame.
type Code uint8

// The error codes defined by RFT (spec.md §6).
const (
	NoError           Code = 0
	VersionMismatch   Code = 1
	UnknownCommand    Code = 2
	BadRequest        Code = 3
	NotFound          Code = 4
	PermissionDenied  Code = 5
	ChecksumChanged   Code = 6
	IOError           Code = 7
	InternalError     Code = 8
	Shutdown          Code = 9
)

func (c Code) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case VersionMismatch:
		return "VERSION_MISMATCH"
	case UnknownCommand:
		return "UNKNOWN_COMMAND"
	case BadRequest:
		return "BAD_REQUEST"
	case NotFound:
		return "NOT_FOUND"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case ChecksumChanged:
		return "CHECKSUM_CHANGED"
	case IOError:
		return "IO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint8(c))
	}
}

// TransportError is sent or received as an Error frame: a code plus an
// optional human-readable message. It satisfies the error interface so
// it can travel through normal Go error handling and be recovered with
// errors.As.
type TransportError struct {
	Code    Code
	Message string
}

func (e *TransportError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a TransportError for the given code and message.
func New(code Code, message string) *TransportError {
	return &TransportError{Code: code, Message: message}
}

// CommandError is a command-scoped failure (spec.md §7): it closes the
// command, not the connection.
type CommandError struct {
	FrameID uint32
	Code    Code
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d: %s: %s", e.FrameID, e.Code, e.Message)
}
