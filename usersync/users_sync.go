package usersync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type usersSync struct {
	params    *Parameters
	connector IDirectoryConnector
	logger    *slog.Logger
	metrics   *Metrics
	policy    *RetryPolicy
}

type Option func(*usersSync)

func WithLogger(logger *slog.Logger) Option {
	return func(s *usersSync) {
		s.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *usersSync) {
		s.metrics = metrics
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy(params.MaxRetries).
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *usersSync) {
		s.policy = &policy
	}
}

// NewUsersSync creates a sync run of the source group into the destination group.
func NewUsersSync(params *Parameters, connector IDirectoryConnector, opts ...Option) IUsersSync {
	var s = &usersSync{
		params:    params,
		connector: connector,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Sync loads both groups, applies their difference to the destination and reports the counts.
// Errors are logged, then returned unchanged so the trigger can retry the run.
func (s *usersSync) Sync(ctx context.Context) (report *SyncReport, err error) {
	var logger = s.logger.With(slog.String("run_id", uuid.NewString()))
	defer func() {
		if err != nil {
			report = nil
			LogFailure(logger, s.metrics, err)
		}
	}()

	if err = s.params.Validate(); err != nil {
		return
	}
	var policy = DefaultRetryPolicy(s.params.MaxRetries)
	if s.policy != nil {
		policy = *s.policy
		policy.MaxRetries = s.params.MaxRetries
	}

	logger.Info("loading group members", slog.String("client_id", s.params.ClientId),
		slog.String("source_provider", s.params.SourceProvider))
	var source IDirectoryReader
	if source, err = s.connector.ConnectSource(ctx, s.params); err != nil {
		err = tagUnavailable("connect source directory", err)
		return
	}
	var destination IDirectory
	if destination, err = s.connector.ConnectDestination(ctx, s.params); err != nil {
		err = tagUnavailable("connect destination directory", err)
		return
	}
	source = WithReaderRetry(source, policy)
	destination = WithRetry(destination, policy)

	var srcMembers, dstMembers MembershipSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (er1 error) {
		srcMembers, er1 = LoadGroupMembers(gctx, source, s.params.SourceGroupId, LoadOptions{
			Workers: s.params.ResolveWorkers, Logger: logger, Metrics: s.metrics, Side: "source",
		})
		return
	})
	g.Go(func() (er1 error) {
		dstMembers, er1 = LoadGroupMembers(gctx, destination, s.params.DestinationGroupId, LoadOptions{
			Workers: s.params.ResolveWorkers, Logger: logger, Metrics: s.metrics, Side: "destination",
		})
		return
	})
	if err = g.Wait(); err != nil {
		return
	}
	logger.Info("loading group members done")

	var diff = Diff(srcMembers, dstMembers)
	logger.Info("syncing users", slog.Int("to_add", len(diff.ToAdd)), slog.Int("to_remove", len(diff.ToRemove)))

	var target = ApplyTarget{
		GroupId:       s.params.DestinationGroupId,
		TenantId:      s.params.DestinationTenantId,
		InviteBaseUrl: s.params.InviteBaseUrl,
		RemovalMode:   s.params.RemovalMode,
	}
	if report, err = ApplyDiff(ctx, destination, srcMembers, dstMembers, diff, target,
		ApplyOptions{Logger: logger, Metrics: s.metrics}); err != nil {
		return
	}

	logger.Info("users synced",
		slog.Int("users_added", report.UsersAdded),
		slog.Int("users_deleted", report.UsersRemoved),
		slog.Int("users_total", report.TotalDestinationUsers))
	s.metrics.runSucceeded(report)
	return
}

// LogFailure logs a failed run under a message chosen by its ErrorKind and counts it in metrics.
func LogFailure(logger *slog.Logger, metrics *Metrics, err error) {
	var kind, _ = KindOf(err)
	metrics.runFailed(kind)

	var attrs []any
	var se *SyncError
	if errors.As(err, &se) {
		if len(se.Op) > 0 {
			attrs = append(attrs, slog.String("op", se.Op))
		}
		if len(se.Key) > 0 {
			attrs = append(attrs, slog.String("key", string(se.Key)))
		}
	}
	attrs = append(attrs, slog.String("error", err.Error()))

	switch {
	case errors.Is(err, InvalidConfiguration):
		logger.Error("invalid function input", attrs...)
	case IsCancellation(err):
		logger.Error("function context was cancelled", attrs...)
	case errors.Is(err, DirectoryUnavailable), errors.Is(err, MutationFailed):
		logger.Error("directory service error", attrs...)
	default:
		logger.Error("unknown error", attrs...)
	}
}

func tagUnavailable(op string, err error) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	return newSyncError(DirectoryUnavailable, op, "", err)
}
