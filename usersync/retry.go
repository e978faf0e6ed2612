package usersync

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
)

// RetryPolicy controls how often a single directory call is re-driven.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
	}
}

// retryable is implemented by directory errors that know whether they are transient.
type retryable interface {
	Retryable() bool
}

// retryAfter is implemented by directory errors carrying a server supplied delay.
type retryAfter interface {
	RetryAfter() time.Duration
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var re retryable
	if errors.As(err, &re) && re.Retryable() {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}

// notFound is implemented by directory errors for members that cannot be resolved.
type notFound interface {
	NotFound() bool
}

func isNotFound(err error) bool {
	var nf notFound
	return errors.As(err, &nf) && nf.NotFound()
}

// serverBackOff prefers the delay the directory asked for over the exponential one.
type serverBackOff struct {
	backoff.BackOff
	maxDelay time.Duration
	next     time.Duration
}

func (b *serverBackOff) observe(err error) {
	b.next = 0
	var ra retryAfter
	if errors.As(err, &ra) {
		b.next = ra.RetryAfter()
	}
}

func (b *serverBackOff) NextBackOff() time.Duration {
	var delay = b.BackOff.NextBackOff()
	if delay == backoff.Stop {
		return delay
	}
	if b.next > 0 {
		delay = b.next
	}
	if b.maxDelay > 0 && delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

func (p RetryPolicy) backOff() *serverBackOff {
	var exp = backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &serverBackOff{BackOff: exp, maxDelay: p.MaxDelay}
}

// Do runs fn until it succeeds, fails permanently or the retries are used up.
// The final failure is tagged DirectoryUnavailable, or Cancelled when ctx ended.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	var maxRetries uint64
	if p.MaxRetries > 0 {
		maxRetries = uint64(p.MaxRetries)
	}
	var server = p.backOff()
	var b = backoff.WithContext(backoff.WithMaxRetries(server, maxRetries), ctx)

	var callErr error
	err = backoff.Retry(func() error {
		if er1 := ctx.Err(); er1 != nil {
			return backoff.Permanent(er1)
		}
		if callErr = fn(ctx); callErr == nil {
			return nil
		}
		if !isRetryable(callErr) {
			return backoff.Permanent(callErr)
		}
		server.observe(callErr)
		return callErr
	}, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		if callErr == nil {
			return cancelledError(ctx, op, "")
		}
		return newSyncError(Cancelled, op, "", callErr)
	}
	return newSyncError(DirectoryUnavailable, op, "", err)
}

type retryingDirectory struct {
	directory IDirectory
	policy    RetryPolicy
}

type retryingReader struct {
	reader IDirectoryReader
	policy RetryPolicy
}

// WithRetry decorates a directory so every call follows policy.
func WithRetry(directory IDirectory, policy RetryPolicy) IDirectory {
	return &retryingDirectory{directory: directory, policy: policy}
}

// WithReaderRetry is WithRetry for read-only directories.
func WithReaderRetry(reader IDirectoryReader, policy RetryPolicy) IDirectoryReader {
	return &retryingReader{reader: reader, policy: policy}
}

func (r *retryingReader) ListGroupMembers(ctx context.Context, groupId string) (members []MemberRef, err error) {
	err = r.policy.Do(ctx, "list group members "+groupId, func(ctx context.Context) (er1 error) {
		members, er1 = r.reader.ListGroupMembers(ctx, groupId)
		return
	})
	return
}

func (r *retryingReader) GetUser(ctx context.Context, userId string) (user *DirectoryUser, err error) {
	err = r.policy.Do(ctx, "get user "+userId, func(ctx context.Context) (er1 error) {
		user, er1 = r.reader.GetUser(ctx, userId)
		return
	})
	return
}

func (r *retryingDirectory) ListGroupMembers(ctx context.Context, groupId string) ([]MemberRef, error) {
	return (&retryingReader{reader: r.directory, policy: r.policy}).ListGroupMembers(ctx, groupId)
}

func (r *retryingDirectory) GetUser(ctx context.Context, userId string) (*DirectoryUser, error) {
	return (&retryingReader{reader: r.directory, policy: r.policy}).GetUser(ctx, userId)
}

func (r *retryingDirectory) CreateInvitation(ctx context.Context, invitation *Invitation) (invited *InvitedUser, err error) {
	err = r.policy.Do(ctx, "create invitation", func(ctx context.Context) (er1 error) {
		invited, er1 = r.directory.CreateInvitation(ctx, invitation)
		return
	})
	return
}

func (r *retryingDirectory) AddGroupMember(ctx context.Context, groupId string, userId string) error {
	return r.policy.Do(ctx, "add group member", func(ctx context.Context) error {
		return r.directory.AddGroupMember(ctx, groupId, userId)
	})
}

func (r *retryingDirectory) RemoveGroupMember(ctx context.Context, groupId string, userId string) error {
	return r.policy.Do(ctx, "remove group member", func(ctx context.Context) error {
		return r.directory.RemoveGroupMember(ctx, groupId, userId)
	})
}

func (r *retryingDirectory) DeleteUser(ctx context.Context, userId string) error {
	return r.policy.Do(ctx, "delete user", func(ctx context.Context) error {
		return r.directory.DeleteUser(ctx, userId)
	})
}
