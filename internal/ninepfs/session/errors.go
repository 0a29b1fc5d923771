package session

import (
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

// rerrorMessage renders any error returned from dispatch into the string
// payload of an Rerror reply. Storage errors get a stable, kind-specific
// message so scripted clients can pattern-match on it; anything else (a
// protocol-layer error raised directly by a handler, or a wire decode
// failure) falls back to err.Error().
func rerrorMessage(err error) string {
	kind, ok := storageerrors.Kind(err)
	if !ok {
		return err.Error()
	}
	switch kind {
	case storageerrors.ErrNotFound:
		return "file not found"
	case storageerrors.ErrAlreadyExists:
		return "file exists"
	case storageerrors.ErrNotEmpty:
		return "directory not empty"
	case storageerrors.ErrIsDirectory:
		return "not a file"
	case storageerrors.ErrNotDirectory:
		return "not a directory"
	case storageerrors.ErrInvalidArgument:
		// Carries a handler-specific detail (e.g. "fid in use", "walk
		// failed: fid is open", "cannot remove root") rather than one
		// fixed string, so surface the bare message, not err.Error()'s
		// "InvalidArgument: ..." log-formatted form.
		return storageerrors.Message(err)
	case storageerrors.ErrIOError:
		return "i/o error"
	case storageerrors.ErrNoSpace:
		return "disk full"
	case storageerrors.ErrReadOnly:
		return "invalid mode"
	case storageerrors.ErrInvalidHandle:
		return "i/o error"
	case storageerrors.ErrBusy:
		return "storage busy"
	case storageerrors.ErrNameTooLong:
		return "name too long"
	case storageerrors.ErrInvalidPath:
		return "invalid path"
	case storageerrors.ErrNotMounted:
		return "not mounted"
	default:
		return err.Error()
	}
}
