package errors

import (
	"errors"
	"io/fs"
	"net"
)

// Classify inspects a plain error returned by the standard library or a
// driver and assigns it a Code, so that callers at the outer boundary
// only ever propagate *ReachError.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	if re, ok := err.(*ReachError); ok {
		return re.Code
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CodeConfigMissing
	case errors.Is(err, fs.ErrPermission):
		return CodeIOFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodePortUnavailable
	}
	return CodeUnknown
}

// ClassifyAndWrap is Classify followed by Wrap, the common path for
// boundary code that receives a bare error from a library call.
func ClassifyAndWrap(err error, message string) *ReachError {
	if err == nil {
		return nil
	}
	return Wrap(err, Classify(err), message)
}
