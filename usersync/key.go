package usersync

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UserKey derives the membership key of a user: its mail address, lower-cased.
// The user principal name is never used as a key.
func UserKey(user *DirectoryUser) (key MembershipKey, err error) {
	var mail string
	if user != nil {
		mail = strings.TrimSpace(user.Mail)
	}
	if len(mail) == 0 {
		var id string
		if user != nil {
			id = user.Id
		}
		err = newSyncError(MissingIdentityKey, "key user "+id, "", nil)
		return
	}
	// a Caser is stateful, so one is created per call
	key = MembershipKey(cases.Lower(language.Und).String(mail))
	return
}

// ContactAddress resolves the address an invitation is sent to.
func ContactAddress(user *DirectoryUser) (address string, err error) {
	if user != nil {
		if address = strings.TrimSpace(user.Mail); len(address) == 0 {
			address = strings.TrimSpace(user.UserPrincipalName)
		}
	}
	if len(address) == 0 {
		err = newSyncError(NoContactAddress, "resolve contact address", "", nil)
	}
	return
}
