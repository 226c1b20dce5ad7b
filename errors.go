package rft

import "github.com/rft-go/rft/internal/rfterr"

// ErrorCode re-exports rfterr's wire error codes at the package root,
// so callers need not import internal packages to inspect a
// *TransportError's Code (spec.md §6).
type ErrorCode = rfterr.Code

// The error codes RFT defines on the wire (spec.md §6).
const (
	ErrorCodeNone              = rfterr.NoError
	ErrorCodeVersionMismatch   = rfterr.VersionMismatch
	ErrorCodeUnknownCommand    = rfterr.UnknownCommand
	ErrorCodeBadRequest        = rfterr.BadRequest
	ErrorCodeNotFound          = rfterr.NotFound
	ErrorCodePermissionDenied  = rfterr.PermissionDenied
	ErrorCodeChecksumChanged   = rfterr.ChecksumChanged
	ErrorCodeIOError           = rfterr.IOError
	ErrorCodeInternalError     = rfterr.InternalError
	ErrorCodeShutdown          = rfterr.Shutdown
)

// TransportError is a connection-scoped failure reported by an Error
// frame (spec.md §7).
type TransportError = rfterr.TransportError

// CommandError is a command-scoped failure: the command fails but the
// connection stays open (spec.md §7).
type CommandError = rfterr.CommandError
