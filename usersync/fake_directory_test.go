package usersync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// transientError is retryable by RetryPolicy.
type transientError struct {
	msg string
}

func (e *transientError) Error() string   { return e.msg }
func (e *transientError) Retryable() bool { return true }

// fakeDirectory is an in-memory directory with call recording and failure injection.
type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]*DirectoryUser
	groups  map[string][]MemberRef
	calls   []string
	invites []*Invitation
	// fail is consulted before each call; a non-nil error fails the call
	fail func(op string, arg string) error
	// after runs once a call succeeded
	after func(op string, arg string)
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  make(map[string]*DirectoryUser),
		groups: make(map[string][]MemberRef),
	}
}

func (f *fakeDirectory) addMember(groupId string, user *DirectoryUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.Id] = user
	f.groups[groupId] = append(f.groups[groupId], MemberRef{Id: user.Id, Kind: MemberKindUser})
}

func (f *fakeDirectory) enter(op string, arg string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+arg)
	var fail = f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail(op, arg)
	}
	return nil
}

func (f *fakeDirectory) leave(op string, arg string) {
	if f.after != nil {
		f.after(op, arg)
	}
}

func (f *fakeDirectory) callsOf(op string) (result []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+" ") {
			result = append(result, strings.TrimPrefix(c, op+" "))
		}
	}
	return
}

func (f *fakeDirectory) ListGroupMembers(ctx context.Context, groupId string) ([]MemberRef, error) {
	if err := f.enter("list", groupId); err != nil {
		return nil, err
	}
	f.mu.Lock()
	var members = slices.Clone(f.groups[groupId])
	f.mu.Unlock()
	f.leave("list", groupId)
	return members, nil
}

func (f *fakeDirectory) GetUser(ctx context.Context, userId string) (*DirectoryUser, error) {
	if err := f.enter("get", userId); err != nil {
		return nil, err
	}
	f.mu.Lock()
	var user, ok = f.users[userId]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("user %s not found", userId)
	}
	f.leave("get", userId)
	var clone = *user
	return &clone, nil
}

func (f *fakeDirectory) CreateInvitation(ctx context.Context, invitation *Invitation) (*InvitedUser, error) {
	if err := f.enter("invite", invitation.EmailAddress); err != nil {
		return nil, err
	}
	var id = "guest-" + strings.ToLower(invitation.EmailAddress)
	f.mu.Lock()
	f.invites = append(f.invites, invitation)
	if _, ok := f.users[id]; !ok {
		f.users[id] = &DirectoryUser{Id: id, Mail: invitation.EmailAddress, DisplayName: invitation.DisplayName}
	}
	f.mu.Unlock()
	f.leave("invite", invitation.EmailAddress)
	return &InvitedUser{Id: id}, nil
}

func (f *fakeDirectory) AddGroupMember(ctx context.Context, groupId string, userId string) error {
	if err := f.enter("add", userId); err != nil {
		return err
	}
	f.mu.Lock()
	f.groups[groupId] = append(f.groups[groupId], MemberRef{Id: userId, Kind: MemberKindUser})
	f.mu.Unlock()
	f.leave("add", userId)
	return nil
}

func (f *fakeDirectory) RemoveGroupMember(ctx context.Context, groupId string, userId string) error {
	if err := f.enter("remove", userId); err != nil {
		return err
	}
	f.mu.Lock()
	var members = f.groups[groupId]
	var idx = slices.IndexFunc(members, func(m MemberRef) bool { return m.Id == userId })
	if idx < 0 {
		f.mu.Unlock()
		return errors.New("member not found")
	}
	f.groups[groupId] = slices.Delete(members, idx, idx+1)
	f.mu.Unlock()
	f.leave("remove", userId)
	return nil
}

func (f *fakeDirectory) DeleteUser(ctx context.Context, userId string) error {
	if err := f.enter("delete", userId); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.users, userId)
	f.mu.Unlock()
	f.leave("delete", userId)
	return nil
}

type fakeConnector struct {
	source      IDirectoryReader
	destination IDirectory
	connects    int
}

func (c *fakeConnector) ConnectSource(ctx context.Context, params *Parameters) (IDirectoryReader, error) {
	c.connects++
	return c.source, nil
}

func (c *fakeConnector) ConnectDestination(ctx context.Context, params *Parameters) (IDirectory, error) {
	c.connects++
	return c.destination, nil
}

func snapshotOf(mails ...string) MembershipSnapshot {
	var snapshot = make(MembershipSnapshot)
	for _, m := range mails {
		snapshot[MembershipKey(strings.ToLower(m))] = &DirectoryUser{Id: "id-" + m, Mail: m, DisplayName: m}
	}
	return snapshot
}
