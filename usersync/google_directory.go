package usersync

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type googleDirectory struct {
	directory *admin.Service
}

// NewGoogleDirectory creates a read-only source directory for a Google Workspace group.
// credentials: GCP service account JWT credentials
// subject: Google Workspace admin account the service account impersonates
func NewGoogleDirectory(ctx context.Context, credentials []byte, subject string) (reader IDirectoryReader, err error) {
	params := google.CredentialsParams{
		Scopes: []string{admin.AdminDirectoryUserReadonlyScope,
			admin.AdminDirectoryGroupMemberReadonlyScope},
		Subject: subject,
	}
	var cred *google.Credentials
	if cred, err = google.CredentialsFromJSONWithParams(ctx, credentials, params); err != nil {
		return
	}
	return newGoogleDirectory(ctx, option.WithCredentials(cred))
}

func newGoogleDirectory(ctx context.Context, opts ...option.ClientOption) (reader IDirectoryReader, err error) {
	var directory *admin.Service
	if directory, err = admin.NewService(ctx, opts...); err != nil {
		return
	}
	reader = &googleDirectory{directory: directory}
	return
}

// googleError marks Admin SDK errors the retry policy may re-drive.
type googleError struct {
	err error
}

func (e *googleError) Error() string {
	return "google directory API: " + e.err.Error()
}

func (e *googleError) Unwrap() error {
	return e.err
}

func (e *googleError) Retryable() bool {
	var ge *googleapi.Error
	if errors.As(e.err, &ge) {
		return ge.Code == http.StatusTooManyRequests || ge.Code >= 500
	}
	return false
}

// NotFound reports a member Users.Get cannot resolve, such as a user outside the domain.
func (e *googleError) NotFound() bool {
	var ge *googleapi.Error
	return errors.As(e.err, &ge) && ge.Code == http.StatusNotFound
}

func (gd *googleDirectory) ListGroupMembers(ctx context.Context, groupId string) (members []MemberRef, err error) {
	err = gd.directory.Members.List(groupId).Context(ctx).Pages(ctx, func(page *admin.Members) error {
		for _, m := range page.Members {
			members = append(members, MemberRef{
				Id:   m.Id,
				Kind: strings.ToLower(m.Type),
			})
		}
		return nil
	})
	if err != nil {
		err = &googleError{err: err}
	}
	return
}

func (gd *googleDirectory) GetUser(ctx context.Context, userId string) (user *DirectoryUser, err error) {
	var u *admin.User
	if u, err = gd.directory.Users.Get(userId).Context(ctx).Do(); err != nil {
		err = &googleError{err: err}
		return
	}
	user = &DirectoryUser{
		Id:                u.Id,
		Mail:              u.PrimaryEmail,
		UserPrincipalName: u.PrimaryEmail,
	}
	if u.Name != nil {
		if len(u.Name.FullName) > 0 {
			user.DisplayName = u.Name.FullName
		} else {
			user.DisplayName = strings.TrimSpace(strings.Join([]string{u.Name.GivenName, u.Name.FamilyName}, " "))
		}
	}
	return
}
