package usersync

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	envSourceTenantId      = "SRC_TENANT_ID"
	envDestinationTenantId = "DST_TENANT_ID"
	envSourceGroupId       = "SRC_GROUP_ID"
	envDestinationGroupId  = "DST_GROUP_ID"
	envClientId            = "CLIENT_ID"
	envClientSecret        = "CLIENT_SECRET"
	envInviteBaseUrl       = "INVITE_BASE_URL"
	envRequestMaxRetries   = "REQUEST_MAX_RETRIES"
	envRemovalMode         = "REMOVAL_MODE"
	envResolveWorkers      = "RESOLVE_WORKERS"
	envSourceProvider      = "SOURCE_PROVIDER"
	envVerbose             = "VERBOSE"
)

const (
	SourceProviderGraph  = "graph"
	SourceProviderGoogle = "google"
)

// Parameters are the settings of one sync run.
type Parameters struct {
	SourceTenantId      string
	DestinationTenantId string
	SourceGroupId       string
	DestinationGroupId  string
	ClientId            string
	ClientSecret        string
	InviteBaseUrl       string
	MaxRetries          int

	RemovalMode    RemovalMode
	ResolveWorkers int
	Verbose        bool

	// SourceProvider selects the source directory: SourceProviderGraph or SourceProviderGoogle.
	SourceProvider string
	// GoogleCredentials and GoogleAdmin are used by the Google Workspace source only.
	GoogleCredentials []byte
	GoogleAdmin       string
}

// LoadParameters reads run parameters through lookup, os.LookupEnv when nil.
// Values are not validated here; see Validate.
func LoadParameters(lookup func(string) (string, bool)) (params *Parameters, err error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var get = func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	params = &Parameters{
		SourceTenantId:      get(envSourceTenantId),
		DestinationTenantId: get(envDestinationTenantId),
		SourceGroupId:       get(envSourceGroupId),
		DestinationGroupId:  get(envDestinationGroupId),
		ClientId:            get(envClientId),
		ClientSecret:        get(envClientSecret),
		InviteBaseUrl:       get(envInviteBaseUrl),
		RemovalMode:         RemovalMode(strings.ToLower(get(envRemovalMode))),
		SourceProvider:      strings.ToLower(get(envSourceProvider)),
	}

	var sv string
	if sv = get(envRequestMaxRetries); len(sv) > 0 {
		if params.MaxRetries, err = strconv.Atoi(sv); err != nil {
			err = configError("error parsing \"%s\": %w", envRequestMaxRetries, err)
			return
		}
	}
	if sv = get(envResolveWorkers); len(sv) > 0 {
		if params.ResolveWorkers, err = strconv.Atoi(sv); err != nil {
			err = configError("error parsing \"%s\": %w", envResolveWorkers, err)
			return
		}
	}
	if sv = get(envVerbose); len(sv) > 0 {
		params.Verbose, _ = toBoolean(sv)
	}
	return
}

// Validate checks that every required parameter is present and well formed
// and fills in defaults. It fails with InvalidConfiguration.
func (p *Parameters) Validate() error {
	if p == nil {
		return configError("run parameters are missing")
	}
	var missing []string
	if p.SourceProvider != SourceProviderGoogle && len(strings.TrimSpace(p.SourceTenantId)) == 0 {
		missing = append(missing, envSourceTenantId)
	}
	for _, x := range []struct {
		name  string
		value string
	}{
		{envDestinationTenantId, p.DestinationTenantId},
		{envSourceGroupId, p.SourceGroupId},
		{envDestinationGroupId, p.DestinationGroupId},
		{envClientId, p.ClientId},
		{envClientSecret, p.ClientSecret},
		{envInviteBaseUrl, p.InviteBaseUrl},
	} {
		if len(strings.TrimSpace(x.value)) == 0 {
			missing = append(missing, x.name)
		}
	}
	if len(missing) > 0 {
		return configError("missing parameters: %s", strings.Join(missing, ", "))
	}
	if p.MaxRetries <= 0 {
		return configError("\"%s\" must be a positive integer, got %d", envRequestMaxRetries, p.MaxRetries)
	}
	if u, err := url.Parse(p.InviteBaseUrl); err != nil || len(u.Scheme) == 0 || len(u.Host) == 0 {
		return configError("\"%s\" is not an absolute URL: %s", envInviteBaseUrl, p.InviteBaseUrl)
	}
	switch p.RemovalMode {
	case "":
		p.RemovalMode = RemovalDelete
	case RemovalDelete, RemovalMembership:
	default:
		return configError("\"%s\" must be \"%s\" or \"%s\", got \"%s\"", envRemovalMode, RemovalDelete, RemovalMembership, p.RemovalMode)
	}
	if p.ResolveWorkers < 0 {
		return configError("\"%s\" must not be negative", envResolveWorkers)
	}
	switch p.SourceProvider {
	case "":
		p.SourceProvider = SourceProviderGraph
	case SourceProviderGraph:
	case SourceProviderGoogle:
		if len(p.GoogleCredentials) == 0 || len(p.GoogleAdmin) == 0 {
			return configError("Google Workspace source requires service account credentials and an admin account")
		}
	default:
		return configError("\"%s\" must be \"%s\" or \"%s\", got \"%s\"", envSourceProvider, SourceProviderGraph, SourceProviderGoogle, p.SourceProvider)
	}
	return nil
}
