package usersync

import "context"

// MemberKindUser is the only member reference kind the loader resolves to a user record.
const MemberKindUser = "user"

type IDirectoryReader interface {
	ListGroupMembers(ctx context.Context, groupId string) ([]MemberRef, error)
	GetUser(ctx context.Context, userId string) (*DirectoryUser, error)
}

// IDirectory is a destination directory: it can be read and mutated.
type IDirectory interface {
	IDirectoryReader
	CreateInvitation(ctx context.Context, invitation *Invitation) (*InvitedUser, error)
	AddGroupMember(ctx context.Context, groupId string, userId string) error
	RemoveGroupMember(ctx context.Context, groupId string, userId string) error
	DeleteUser(ctx context.Context, userId string) error
}

// IDirectoryConnector acquires authenticated directory handles for one run.
type IDirectoryConnector interface {
	ConnectSource(ctx context.Context, params *Parameters) (IDirectoryReader, error)
	ConnectDestination(ctx context.Context, params *Parameters) (IDirectory, error)
}

type IUsersSync interface {
	Sync(ctx context.Context) (*SyncReport, error)
}

type DirectoryUser struct {
	Id                string
	Mail              string
	UserPrincipalName string
	DisplayName       string
}

type MemberRef struct {
	Id   string
	Kind string
}

type Invitation struct {
	DisplayName  string
	EmailAddress string
	SendMessage  bool
	RedirectUrl  string
}

type InvitedUser struct {
	Id string
}

type MembershipKey string

// MembershipSnapshot maps member keys to the user records of one group at load time.
type MembershipSnapshot map[MembershipKey]*DirectoryUser

type SyncDiff struct {
	ToAdd    []MembershipKey
	ToRemove []MembershipKey
}

type SyncReport struct {
	UsersAdded            int
	UsersRemoved          int
	TotalDestinationUsers int
}
