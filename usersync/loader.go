package usersync

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultResolveWorkers = 8

type LoadOptions struct {
	// Workers bounds concurrent user lookups; zero means defaultResolveWorkers.
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
	// Side labels log lines and metrics, e.g. "source" or "destination".
	Side string
}

// snapshotBuilder collects resolved users from concurrent workers.
type snapshotBuilder struct {
	mu       sync.Mutex
	snapshot MembershipSnapshot
}

func (b *snapshotBuilder) put(key MembershipKey, user *DirectoryUser) (previous *DirectoryUser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	previous = b.snapshot[key]
	b.snapshot[key] = user
	return
}

// LoadGroupMembers lists the members of groupId and resolves every user member to a full record.
// Members without a mail address, and members the directory reports as not found, are left out of the snapshot.
func LoadGroupMembers(ctx context.Context, directory IDirectoryReader, groupId string, opts LoadOptions) (snapshot MembershipSnapshot, err error) {
	var logger = opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("side", opts.Side), slog.String("group_id", groupId))

	var members []MemberRef
	if members, err = directory.ListGroupMembers(ctx, groupId); err != nil {
		return
	}
	logger.Debug("group members listed", slog.Int("members", len(members)))

	var builder = &snapshotBuilder{snapshot: make(MembershipSnapshot, len(members))}
	var workers = opts.Workers
	if workers <= 0 {
		workers = defaultResolveWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, member := range members {
		if len(member.Kind) > 0 && !strings.EqualFold(member.Kind, MemberKindUser) {
			logger.Debug("skipping non-user member", slog.String("member_id", member.Id), slog.String("kind", member.Kind))
			continue
		}
		if err = cancelledError(gctx, "load group members "+groupId, ""); err != nil {
			break
		}
		var memberId = member.Id
		g.Go(func() error {
			user, er1 := directory.GetUser(gctx, memberId)
			if er1 != nil {
				if isNotFound(er1) {
					logger.Warn("member cannot be resolved and is excluded from the snapshot",
						slog.String("member_id", memberId), slog.String("error", er1.Error()))
					opts.Metrics.memberSkipped(opts.Side)
					return nil
				}
				return er1
			}
			if user == nil {
				return nil
			}
			key, er1 := UserKey(user)
			if er1 != nil {
				logger.Warn("member has no mail address and is excluded from the snapshot",
					slog.String("member_id", memberId),
					slog.String("user_principal_name", user.UserPrincipalName))
				opts.Metrics.memberSkipped(opts.Side)
				return nil
			}
			if previous := builder.put(key, user); previous != nil && previous.Id != user.Id {
				logger.Warn("duplicate membership key", slog.String("key", string(key)),
					slog.String("member_id", user.Id), slog.String("replaced_id", previous.Id))
			}
			return nil
		})
	}
	if er1 := g.Wait(); er1 != nil {
		err = er1
	}
	if err != nil {
		return nil, err
	}
	if err = cancelledError(ctx, "load group members "+groupId, ""); err != nil {
		return nil, err
	}

	snapshot = builder.snapshot
	logger.Info("group members loaded", slog.Int("members", len(snapshot)))
	return
}
