package usersync

import (
	"errors"
	"net/url"
	"strings"

	ksm "github.com/keeper-security/secrets-manager-go/core"
)

const googleCredentialsFile = "credentials.json"

// ISecretRecord is the part of a Keeper record the users sync reads.
type ISecretRecord interface {
	GetFieldValueByType(fieldType string) string
	Password() string
	GetCustomFieldsByLabel(label string) []map[string]any
	FileData(name string) []byte
}

type ksmRecord struct {
	*ksm.Record
}

func (r ksmRecord) FileData(name string) (data []byte) {
	var files = r.FindFiles(name)
	if len(files) > 0 {
		data = files[0].GetFileData()
	}
	return
}

// FindUsersSyncRecord returns the first login record shared to the KSM application
// whose URL points to the Microsoft identity platform or Graph.
func FindUsersSyncRecord(sm *ksm.SecretsManager, recordUid string) (record ISecretRecord, err error) {
	var filter []string
	if len(recordUid) > 0 {
		filter = append(filter, recordUid)
	}

	var records []*ksm.Record
	if records, err = sm.GetSecrets(filter); err != nil {
		return
	}
	for _, r := range records {
		if r.Type() != "login" {
			continue
		}
		var webUrl = r.GetFieldValueByType("url")
		if len(webUrl) == 0 {
			continue
		}
		var uri *url.URL
		var er1 error
		if uri, er1 = url.Parse(webUrl); er1 != nil {
			continue
		}
		var host = strings.ToLower(uri.Hostname())
		if !strings.HasSuffix(host, "microsoftonline.com") && !strings.HasSuffix(host, "graph.microsoft.com") {
			continue
		}
		return ksmRecord{r}, nil
	}
	err = errors.New("users sync record was not found. Make sure the record is valid and shared to KSM application")
	return
}

// LoadParametersFromRecord overrides params with the values stored in a Keeper record.
// Login and password hold the app registration client id and secret.
func LoadParametersFromRecord(record ISecretRecord, params *Parameters) (err error) {
	if record == nil || params == nil {
		return configError("secret record is missing")
	}
	if v := strings.TrimSpace(record.GetFieldValueByType("login")); len(v) > 0 {
		params.ClientId = v
	}
	if v := strings.TrimSpace(record.Password()); len(v) > 0 {
		params.ClientSecret = v
	}

	var textFields = []struct {
		label  string
		target *string
	}{
		{"Source Tenant", &params.SourceTenantId},
		{"Destination Tenant", &params.DestinationTenantId},
		{"Source Group", &params.SourceGroupId},
		{"Destination Group", &params.DestinationGroupId},
		{"Invite Base URL", &params.InviteBaseUrl},
		{"Source Provider", &params.SourceProvider},
		{"Google Admin", &params.GoogleAdmin},
	}
	for _, tf := range textFields {
		if values := ParseFieldValues(record.GetCustomFieldsByLabel(tf.label)); len(values) > 0 {
			*tf.target = values[0]
		}
	}
	params.SourceProvider = strings.ToLower(params.SourceProvider)

	var fields []map[string]any
	if fields = record.GetCustomFieldsByLabel("Request Max Retries"); len(fields) > 0 {
		if iv, ok := toInt64(fields[0]["value"]); ok {
			params.MaxRetries = int(iv)
		} else {
			return configError("\"Request Max Retries\" custom field is not an integer")
		}
	}
	if fields = record.GetCustomFieldsByLabel("Verbose"); len(fields) > 0 {
		if bv, ok := toBoolean(fields[0]["value"]); ok {
			params.Verbose = bv
		}
	}
	if values := ParseFieldValues(record.GetCustomFieldsByLabel("Removal Mode")); len(values) > 0 {
		params.RemovalMode = RemovalMode(strings.ToLower(values[0]))
	}

	if data := record.FileData(googleCredentialsFile); len(data) > 0 {
		params.GoogleCredentials = data
	}
	return
}
