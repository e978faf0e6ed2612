package usersync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dstGroup = "dst-group"

func defaultTarget() ApplyTarget {
	return ApplyTarget{
		GroupId:       dstGroup,
		TenantId:      "dst-tenant",
		InviteBaseUrl: "https://myapplications.microsoft.com/",
		RemovalMode:   RemovalDelete,
	}
}

// destinationOf seeds a fake destination directory with the members of snapshot.
func destinationOf(snapshot MembershipSnapshot) *fakeDirectory {
	dir := newFakeDirectory()
	for _, key := range SortedKeys(snapshotKeys(snapshot)) {
		dir.addMember(dstGroup, snapshot[key])
	}
	return dir
}

func TestApplyDiff_ExampleA(t *testing.T) {
	src := snapshotOf("alice@x.com", "bob@x.com")
	dst := snapshotOf("bob@x.com", "carol@x.com")
	dir := destinationOf(dst)

	report, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, &SyncReport{UsersAdded: 1, UsersRemoved: 1, TotalDestinationUsers: 2}, report)
	assert.Equal(t, []string{"alice@x.com"}, dir.callsOf("invite"))
	assert.Equal(t, []string{"guest-alice@x.com"}, dir.callsOf("add"))
	assert.Equal(t, []string{"id-carol@x.com"}, dir.callsOf("remove"))
	assert.Equal(t, []string{"id-carol@x.com"}, dir.callsOf("delete"))

	require.Len(t, dir.invites, 1)
	assert.Equal(t, &Invitation{
		DisplayName:  "alice@x.com",
		EmailAddress: "alice@x.com",
		SendMessage:  true,
		RedirectUrl:  "https://myapplications.microsoft.com/dst-tenant",
	}, dir.invites[0])
}

func TestApplyDiff_ExampleB(t *testing.T) {
	src := snapshotOf()
	dst := snapshotOf("dave@x.com")
	dir := destinationOf(dst)

	report, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, 0, report.UsersAdded)
	assert.Equal(t, 1, report.UsersRemoved)
	assert.Equal(t, 1, report.TotalDestinationUsers)
	assert.Empty(t, dir.callsOf("invite"))
}

func TestApplyDiff_Converges(t *testing.T) {
	src := snapshotOf("a@x.com", "b@x.com", "c@x.com")
	dst := snapshotOf("c@x.com", "d@x.com")
	dir := destinationOf(dst)

	_, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	updated, err := LoadGroupMembers(context.Background(), dir, dstGroup, LoadOptions{Logger: discardLogger()})
	require.NoError(t, err)
	assert.True(t, Diff(src, updated).IsEmpty())
}

func TestApplyDiff_NilDiffIsNoop(t *testing.T) {
	dst := snapshotOf("bob@x.com")
	dir := destinationOf(dst)

	report, err := ApplyDiff(context.Background(), dir, snapshotOf(), dst, nil, defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, &SyncReport{TotalDestinationUsers: 1}, report)
	assert.Empty(t, dir.callsOf("invite"))
	assert.Empty(t, dir.callsOf("delete"))
}

func TestApplyDiff_DeterministicOrder(t *testing.T) {
	src := snapshotOf("zed@x.com", "amy@x.com", "max@x.com")
	dst := snapshotOf("yan@x.com", "bea@x.com")
	dir := destinationOf(dst)

	_, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, []string{"amy@x.com", "max@x.com", "zed@x.com"}, dir.callsOf("invite"))
	assert.Equal(t, []string{"id-bea@x.com", "id-yan@x.com"}, dir.callsOf("remove"))
	// adds never interleave with removes
	var lastAdd, firstRemove = -1, -1
	for i, c := range dir.calls {
		if strings.HasPrefix(c, "add ") {
			lastAdd = i
		}
		if strings.HasPrefix(c, "remove ") && firstRemove < 0 {
			firstRemove = i
		}
	}
	assert.Less(t, lastAdd, firstRemove)
}

func TestApplyDiff_ContactFallsBackToPrincipalName(t *testing.T) {
	src := MembershipSnapshot{"erin": {Id: "e", UserPrincipalName: "erin@upn.example", DisplayName: "Erin"}}
	dir := newFakeDirectory()

	report, err := ApplyDiff(context.Background(), dir, src, MembershipSnapshot{}, Diff(src, nil), defaultTarget(), ApplyOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, 1, report.UsersAdded)
	assert.Equal(t, []string{"erin@upn.example"}, dir.callsOf("invite"))
}

func TestApplyDiff_NoContactAddress(t *testing.T) {
	src := MembershipSnapshot{"ghost": {Id: "g"}}
	dir := newFakeDirectory()

	report, err := ApplyDiff(context.Background(), dir, src, MembershipSnapshot{}, Diff(src, nil), defaultTarget(), ApplyOptions{Logger: discardLogger()})

	assert.Nil(t, report)
	require.Error(t, err)
	assert.True(t, errors.Is(err, NoContactAddress))
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, MembershipKey("ghost"), se.Key)
	assert.Empty(t, dir.calls)
}

func TestApplyDiff_MutationFailedStopsRun(t *testing.T) {
	src := snapshotOf("a@x.com", "b@x.com", "c@x.com")
	dst := snapshotOf("z@x.com")
	dir := destinationOf(dst)
	dir.fail = func(op string, arg string) error {
		if op == "add" && arg == "guest-b@x.com" {
			return errors.New("forbidden")
		}
		return nil
	}

	report, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), defaultTarget(), ApplyOptions{Logger: discardLogger()})

	assert.Nil(t, report)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, MutationFailed, kind)
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, MembershipKey("b@x.com"), se.Key)
	assert.Equal(t, opAddMember, se.Op)

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, dir.callsOf("invite"))
	assert.Empty(t, dir.callsOf("remove"))
}

func TestApplyDiff_RetryExhaustion(t *testing.T) {
	src := snapshotOf("a@x.com", "b@x.com")
	dst := snapshotOf()
	dir := newFakeDirectory()
	dir.fail = func(op string, arg string) error {
		if op == "invite" && arg == "a@x.com" {
			return &transientError{msg: "service unavailable"}
		}
		return nil
	}

	_, err := ApplyDiff(context.Background(), WithRetry(dir, RetryPolicy{MaxRetries: 3}), src, dst, Diff(src, dst),
		defaultTarget(), ApplyOptions{Logger: discardLogger()})

	require.Error(t, err)
	assert.True(t, errors.Is(err, DirectoryUnavailable))
	assert.True(t, errors.Is(err, MutationFailed))
	assert.Len(t, dir.callsOf("invite"), 4)
	assert.NotContains(t, dir.callsOf("invite"), "b@x.com")
}

func TestApplyDiff_CancelledMidRemoval(t *testing.T) {
	src := snapshotOf()
	dst := snapshotOf("a@x.com", "b@x.com", "c@x.com", "d@x.com")
	dir := destinationOf(dst)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var deleted = 0
	dir.after = func(op string, arg string) {
		if op == "delete" {
			deleted++
			if deleted == 2 {
				cancel()
			}
		}
	}

	report, err := ApplyDiff(ctx, WithRetry(dir, RetryPolicy{MaxRetries: 2}), src, dst, Diff(src, dst),
		defaultTarget(), ApplyOptions{Logger: discardLogger()})

	assert.Nil(t, report)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, Cancelled, kind)
	assert.Equal(t, []string{"id-a@x.com", "id-b@x.com"}, dir.callsOf("delete"))
	assert.Len(t, dir.groups[dstGroup], 2)
}

func TestApplyDiff_MembershipRemovalKeepsAccount(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	src := snapshotOf()
	dst := snapshotOf("a@x.com")
	dir := destinationOf(dst)
	target := defaultTarget()
	target.RemovalMode = RemovalMembership

	report, err := ApplyDiff(context.Background(), dir, src, dst, Diff(src, dst), target, ApplyOptions{Logger: discardLogger(), Metrics: metrics})
	require.NoError(t, err)

	assert.Equal(t, 1, report.UsersRemoved)
	assert.Equal(t, []string{"id-a@x.com"}, dir.callsOf("remove"))
	assert.Empty(t, dir.callsOf("delete"))
	assert.Contains(t, dir.users, "id-a@x.com")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UsersRemoved))
}

func TestInviteRedirectUrl(t *testing.T) {
	assert.Equal(t, "https://example.com/t1", InviteRedirectUrl("https://example.com", "t1"))
	assert.Equal(t, "https://example.com/t1", InviteRedirectUrl("https://example.com/", "t1"))
}
