package usersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

const (
	graphBaseUrl = "https://graph.microsoft.com/v1.0/"
	graphScope   = "https://graph.microsoft.com/.default"
	// graphMaxPages stops a runaway nextLink chain
	graphMaxPages = 1000
)

type graphDirectory struct {
	baseUrl string
	client  *http.Client
}

// NewGraphDirectory creates an IDirectory for a Microsoft Entra tenant.
// The app registration authenticates with the client credentials grant.
func NewGraphDirectory(ctx context.Context, tenantId string, clientId string, clientSecret string) IDirectory {
	var cc = &clientcredentials.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		TokenURL:     microsoft.AzureADEndpoint(tenantId).TokenURL,
		Scopes:       []string{graphScope},
	}
	return newGraphDirectory(graphBaseUrl, cc.Client(ctx))
}

func newGraphDirectory(baseUrl string, client *http.Client) *graphDirectory {
	if !strings.HasSuffix(baseUrl, "/") {
		baseUrl += "/"
	}
	return &graphDirectory{baseUrl: baseUrl, client: client}
}

// GraphError is a non-success response of the Graph API.
type GraphError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *GraphError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s Graph \"%s\" error: %s", e.Method, e.Path, e.Body)
	}
	return fmt.Sprintf("%s Graph \"%s\" error: Status code %d", e.Method, e.Path, e.StatusCode)
}

func (e *GraphError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

func (e *GraphError) RetryAfter() time.Duration {
	return e.retryAfter
}

func parseGraphUser(userObject map[string]any) (result *DirectoryUser) {
	var ok bool
	var userId string
	if userId, ok = toString(userObject["id"]); !ok {
		return
	}
	result = new(DirectoryUser)
	result.Id = userId
	result.Mail, _ = toString(userObject["mail"])
	result.UserPrincipalName, _ = toString(userObject["userPrincipalName"])
	result.DisplayName, _ = toString(userObject["displayName"])
	return
}

func parseGraphMember(memberObject map[string]any) (result *MemberRef) {
	var ok bool
	var memberId string
	if memberId, ok = toString(memberObject["id"]); !ok {
		return
	}
	result = &MemberRef{Id: memberId}
	if odataType, ok := toString(memberObject["@odata.type"]); ok {
		result.Kind = strings.TrimPrefix(odataType, "#microsoft.graph.")
	}
	return
}

func (g *graphDirectory) ListGroupMembers(ctx context.Context, groupId string) (members []MemberRef, err error) {
	var uri *url.URL
	if uri, err = g.composeUrl("groups", groupId, "members"); err != nil {
		return
	}
	var query = uri.Query()
	query.Set("$select", "id")
	uri.RawQuery = query.Encode()

	err = g.getResources(ctx, uri.String(), func(mo map[string]any) {
		if m := parseGraphMember(mo); m != nil {
			members = append(members, *m)
		}
	})
	return
}

func (g *graphDirectory) GetUser(ctx context.Context, userId string) (user *DirectoryUser, err error) {
	var uri *url.URL
	if uri, err = g.composeUrl("users", userId); err != nil {
		return
	}
	var query = uri.Query()
	query.Set("$select", "id,mail,userPrincipalName,displayName")
	uri.RawQuery = query.Encode()

	var rq *http.Request
	if rq, err = http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil); err != nil {
		return
	}
	var jo map[string]any
	if jo, err = g.executeRequest(rq); err != nil {
		return
	}
	if user = parseGraphUser(jo); user == nil {
		err = fmt.Errorf("graph user \"%s\": response has no \"id\"", userId)
	}
	return
}

func (g *graphDirectory) CreateInvitation(ctx context.Context, invitation *Invitation) (invited *InvitedUser, err error) {
	var payload = map[string]any{
		"invitedUserDisplayName":  invitation.DisplayName,
		"invitedUserEmailAddress": invitation.EmailAddress,
		"sendInvitationMessage":   invitation.SendMessage,
		"inviteRedirectUrl":       invitation.RedirectUrl,
	}
	var jo map[string]any
	if jo, err = g.postResource(ctx, payload, "invitations"); err != nil {
		return
	}
	var ok bool
	var ju map[string]any
	if ju, ok = jo["invitedUser"].(map[string]any); ok {
		var userId string
		if userId, ok = toString(ju["id"]); ok && len(userId) > 0 {
			invited = &InvitedUser{Id: userId}
			return
		}
	}
	err = fmt.Errorf("graph invitation for \"%s\": response has no invited user", invitation.EmailAddress)
	return
}

func (g *graphDirectory) AddGroupMember(ctx context.Context, groupId string, userId string) (err error) {
	var ref *url.URL
	if ref, err = g.composeUrl("directoryObjects", userId); err != nil {
		return
	}
	var payload = map[string]any{
		"@odata.id": ref.String(),
	}
	_, err = g.postResource(ctx, payload, "groups", groupId, "members", "$ref")
	return
}

func (g *graphDirectory) RemoveGroupMember(ctx context.Context, groupId string, userId string) error {
	return g.deleteResource(ctx, "groups", groupId, "members", userId, "$ref")
}

func (g *graphDirectory) DeleteUser(ctx context.Context, userId string) error {
	return g.deleteResource(ctx, "users", userId)
}

func (g *graphDirectory) composeUrl(paths ...string) (result *url.URL, err error) {
	var uri *url.URL
	if uri, err = url.Parse(g.baseUrl); err != nil {
		return
	}
	var ruri *url.URL
	for _, path := range paths {
		if ruri, err = url.Parse("./" + url.PathEscape(path)); err != nil {
			return
		}
		if !strings.HasSuffix(uri.Path, "/") {
			uri.Path += "/"
		}
		uri = uri.ResolveReference(ruri)
	}

	result = uri
	return
}

func (g *graphDirectory) executeRequest(rq *http.Request) (response map[string]any, err error) {
	var rs *http.Response
	if rs, err = g.client.Do(rq); err != nil {
		return
	}
	defer func() { _ = rs.Body.Close() }()

	var body []byte
	if body, err = io.ReadAll(rs.Body); err != nil {
		return
	}
	if rs.StatusCode >= 300 {
		var path = rq.URL.Path
		if base, er1 := url.Parse(g.baseUrl); er1 == nil {
			path = strings.TrimPrefix(path, base.Path)
		}
		var ge = &GraphError{
			Method:     rq.Method,
			Path:       strings.Trim(path, "/"),
			StatusCode: rs.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		if secs, er1 := strconv.Atoi(strings.TrimSpace(rs.Header.Get("Retry-After"))); er1 == nil && secs > 0 {
			ge.retryAfter = time.Duration(secs) * time.Second
		}
		err = ge
		return
	}
	var contentType = rs.Header.Get("Content-Type")
	if len(body) > 0 && strings.HasPrefix(contentType, "application/json") {
		err = json.Unmarshal(body, &response)
	}
	return
}

func (g *graphDirectory) postResource(ctx context.Context, payload any, paths ...string) (resource map[string]any, err error) {
	var uri *url.URL
	if uri, err = g.composeUrl(paths...); err != nil {
		return
	}

	var data []byte
	if data, err = json.Marshal(payload); err != nil {
		return
	}

	var rq *http.Request
	if rq, err = http.NewRequestWithContext(ctx, http.MethodPost, uri.String(), bytes.NewBuffer(data)); err != nil {
		return
	}
	rq.Header.Add("Content-Type", "application/json")

	resource, err = g.executeRequest(rq)
	return
}

func (g *graphDirectory) deleteResource(ctx context.Context, paths ...string) (err error) {
	var uri *url.URL
	if uri, err = g.composeUrl(paths...); err != nil {
		return
	}

	var rq *http.Request
	if rq, err = http.NewRequestWithContext(ctx, http.MethodDelete, uri.String(), nil); err != nil {
		return
	}

	_, err = g.executeRequest(rq)
	return
}

// getResources follows "@odata.nextLink" until the collection is exhausted.
func (g *graphDirectory) getResources(ctx context.Context, resourceUrl string, cb func(map[string]any)) (err error) {
	var nextUrl = resourceUrl
	for page := 1; len(nextUrl) > 0; page++ {
		if page > graphMaxPages {
			err = fmt.Errorf("get graph resource \"%s\" canceled: too many pages", resourceUrl)
			return
		}

		var rq *http.Request
		if rq, err = http.NewRequestWithContext(ctx, http.MethodGet, nextUrl, nil); err != nil {
			return
		}

		var jo map[string]any
		if jo, err = g.executeRequest(rq); err != nil {
			return
		}
		var ok bool
		var jr []any
		if jr, ok = jo["value"].([]any); ok {
			for _, j := range jr {
				var jor map[string]any
				if jor, ok = j.(map[string]any); ok {
					cb(jor)
				}
			}
		} else {
			err = fmt.Errorf("response does not conform to Graph collection format: missing \"value\"")
			return
		}
		nextUrl, _ = toString(jo["@odata.nextLink"])
	}
	return
}
