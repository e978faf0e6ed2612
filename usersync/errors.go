package usersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags a SyncError. A kind is itself an error so callers can test
// for it anywhere in a wrap chain with errors.Is.
type ErrorKind string

const (
	InvalidConfiguration ErrorKind = "invalid configuration"
	DirectoryUnavailable ErrorKind = "directory unavailable"
	Cancelled            ErrorKind = "cancelled"
	MissingIdentityKey   ErrorKind = "missing identity key"
	NoContactAddress     ErrorKind = "no contact address"
	MutationFailed       ErrorKind = "mutation failed"
)

func (k ErrorKind) Error() string {
	return string(k)
}

type SyncError struct {
	Kind ErrorKind
	Op   string
	Key  MembershipKey
	Err  error
}

func (e *SyncError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if len(e.Op) > 0 {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if len(e.Key) > 0 {
		_, _ = fmt.Fprintf(&sb, " \"%s\"", e.Key)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

func newSyncError(kind ErrorKind, op string, key MembershipKey, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Key: key, Err: err}
}

func configError(format string, args ...any) error {
	return &SyncError{Kind: InvalidConfiguration, Err: fmt.Errorf(format, args...)}
}

// cancelledError reports ctx cancellation for op, or nil when ctx is still live.
func cancelledError(ctx context.Context, op string, key MembershipKey) error {
	if err := ctx.Err(); err != nil {
		return newSyncError(Cancelled, op, key, err)
	}
	return nil
}

// KindOf returns the outermost ErrorKind in err's chain.
// Context cancellation that was never tagged is reported as Cancelled.
func KindOf(err error) (kind ErrorKind, ok bool) {
	if err == nil {
		return
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled, true
	}
	return
}

// IsCancellation reports whether err was caused by a cancelled run context.
func IsCancellation(err error) bool {
	return errors.Is(err, Cancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
