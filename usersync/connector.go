package usersync

import "context"

type directoryConnector struct{}

// NewDirectoryConnector connects the destination, and by default the source, through Microsoft Graph.
// A Google Workspace source is used when Parameters.SourceProvider asks for it.
func NewDirectoryConnector() IDirectoryConnector {
	return directoryConnector{}
}

func (directoryConnector) ConnectSource(ctx context.Context, params *Parameters) (reader IDirectoryReader, err error) {
	if params.SourceProvider == SourceProviderGoogle {
		if reader, err = NewGoogleDirectory(ctx, params.GoogleCredentials, params.GoogleAdmin); err != nil {
			err = newSyncError(DirectoryUnavailable, "connect Google Workspace source", "", err)
		}
		return
	}
	reader = NewGraphDirectory(ctx, params.SourceTenantId, params.ClientId, params.ClientSecret)
	return
}

func (directoryConnector) ConnectDestination(ctx context.Context, params *Parameters) (IDirectory, error) {
	return NewGraphDirectory(ctx, params.DestinationTenantId, params.ClientId, params.ClientSecret), nil
}
