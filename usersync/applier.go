package usersync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const (
	opInvite       = "invite user"
	opAddMember    = "add group member"
	opRemoveMember = "remove group member"
	opDeleteUser   = "delete user"
)

type RemovalMode string

const (
	// RemovalDelete removes the group membership and deletes the destination account.
	RemovalDelete RemovalMode = "delete"
	// RemovalMembership only removes the group membership.
	RemovalMembership RemovalMode = "membership"
)

// ApplyTarget describes where and how the diff is applied.
type ApplyTarget struct {
	GroupId       string
	TenantId      string
	InviteBaseUrl string
	RemovalMode   RemovalMode
}

type ApplyOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

// InviteRedirectUrl joins the invite base URL and the destination tenant.
func InviteRedirectUrl(baseUrl string, tenantId string) string {
	return strings.TrimRight(baseUrl, "/") + "/" + tenantId
}

// ApplyDiff invites and adds every ToAdd key, then removes every ToRemove key, in diff order.
// The first failure stops the run; mutations already made stay in place and no report is returned.
func ApplyDiff(ctx context.Context, destination IDirectory, source MembershipSnapshot, current MembershipSnapshot,
	diff *SyncDiff, target ApplyTarget, opts ApplyOptions) (report *SyncReport, err error) {
	var logger = opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if diff == nil {
		diff = &SyncDiff{}
	}
	var stat = &SyncReport{TotalDestinationUsers: len(current)}

	for _, key := range diff.ToAdd {
		var user = source[key]
		if user == nil {
			continue
		}
		if err = addUser(ctx, destination, key, user, target); err != nil {
			logger.Info("adding users stopped", slog.Int("users_added", stat.UsersAdded))
			return nil, err
		}
		stat.UsersAdded++
		opts.Metrics.userAdded()
		logger.Debug("user added", slog.String("key", string(key)))
	}
	logger.Info("adding users done", slog.Int("users_added", stat.UsersAdded))

	for _, key := range diff.ToRemove {
		var user = current[key]
		if user == nil {
			continue
		}
		if err = removeUser(ctx, destination, key, user, target); err != nil {
			logger.Info("removing users stopped", slog.Int("users_removed", stat.UsersRemoved))
			return nil, err
		}
		stat.UsersRemoved++
		opts.Metrics.userRemoved()
		logger.Debug("user removed", slog.String("key", string(key)), slog.String("mode", string(target.RemovalMode)))
	}
	logger.Info("removing users done", slog.Int("users_removed", stat.UsersRemoved))

	report = stat
	return
}

func addUser(ctx context.Context, destination IDirectory, key MembershipKey, user *DirectoryUser, target ApplyTarget) (err error) {
	var contact string
	if contact, err = ContactAddress(user); err != nil {
		var se *SyncError
		if errors.As(err, &se) {
			se.Key = key
		}
		return
	}
	var invitation = &Invitation{
		DisplayName:  user.DisplayName,
		EmailAddress: contact,
		SendMessage:  true,
		RedirectUrl:  InviteRedirectUrl(target.InviteBaseUrl, target.TenantId),
	}

	if err = cancelledError(ctx, opInvite, key); err != nil {
		return
	}
	var invited *InvitedUser
	if invited, err = destination.CreateInvitation(ctx, invitation); err != nil {
		return mutationError(opInvite, key, err)
	}
	if invited == nil || len(invited.Id) == 0 {
		return newSyncError(MutationFailed, opInvite, key, errors.New("invitation did not return the invited user"))
	}

	if err = cancelledError(ctx, opAddMember, key); err != nil {
		return
	}
	if err = destination.AddGroupMember(ctx, target.GroupId, invited.Id); err != nil {
		return mutationError(opAddMember, key, err)
	}
	return
}

func removeUser(ctx context.Context, destination IDirectory, key MembershipKey, user *DirectoryUser, target ApplyTarget) (err error) {
	if err = cancelledError(ctx, opRemoveMember, key); err != nil {
		return
	}
	if err = destination.RemoveGroupMember(ctx, target.GroupId, user.Id); err != nil {
		return mutationError(opRemoveMember, key, err)
	}
	if target.RemovalMode == RemovalMembership {
		return
	}

	if err = cancelledError(ctx, opDeleteUser, key); err != nil {
		return
	}
	if err = destination.DeleteUser(ctx, user.Id); err != nil {
		return mutationError(opDeleteUser, key, err)
	}
	return
}

func mutationError(op string, key MembershipKey, err error) error {
	if IsCancellation(err) {
		return newSyncError(Cancelled, op, key, err)
	}
	return newSyncError(MutationFailed, op, key, err)
}
