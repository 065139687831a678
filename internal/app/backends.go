package app

import (
	"context"
	"fmt"
	"time"

	"hubview/api/internal/config"
	"hubview/api/internal/derivative"
	"hubview/api/internal/dm"
	"hubview/api/internal/enrich"
	"hubview/api/internal/gate"
	"hubview/api/internal/panel"
	"hubview/api/internal/remote"
	"hubview/api/internal/viewer"
)

// DocumentService is what a panel needs from the document-management service.
type DocumentService interface {
	enrich.VersionSource
	GetHubs(ctx context.Context) ([]dm.Hub, error)
	GetProjects(ctx context.Context, hubID string) ([]dm.Project, error)
	GetTopFolders(ctx context.Context, hubID, projectID string) ([]dm.Entry, error)
	GetFolderContents(ctx context.Context, projectID, folderID string) ([]dm.Entry, error)
}

// Backends are the remote collaborators of one panel, bound to one bearer token.
type Backends struct {
	Documents   DocumentService
	Derivatives enrich.DerivativeSource
	Users       gate.UserSource
	// Host and Loader may be nil; the panel then tracks docking and loads
	// itself and the browser picks them up from the panel status.
	Host   panel.Host
	Loader viewer.Loader
}

// BackendFactory builds the backends for a panel and the token it was given.
type BackendFactory func(panelID, token string) Backends

// RemoteBackends builds HTTP clients for every configured service once and
// hands out token-bound copies per panel.
func RemoteBackends(cfg config.Config) (BackendFactory, error) {
	opts := remote.Options{
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     250 * time.Millisecond,
	}
	documents, err := remote.NewClient(cfg.DocumentAPIURL, opts)
	if err != nil {
		return nil, fmt.Errorf("document service client: %w", err)
	}
	derivatives, err := remote.NewClient(cfg.DerivativeAPIURL, opts)
	if err != nil {
		return nil, fmt.Errorf("derivative service client: %w", err)
	}
	users, err := remote.NewClient(cfg.UserAPIURL, opts)
	if err != nil {
		return nil, fmt.Errorf("user service client: %w", err)
	}
	var viewerHost *remote.Client
	if cfg.ViewerHostURL != "" {
		if viewerHost, err = remote.NewClient(cfg.ViewerHostURL, opts); err != nil {
			return nil, fmt.Errorf("viewer host client: %w", err)
		}
	}

	dmClient := dm.NewClient(documents)
	derivativeClient := derivative.NewClient(derivatives)
	userSource := gate.NewHTTPUserSource(users, cfg.LoginURL)

	return func(panelID, token string) Backends {
		b := Backends{
			Documents:   dmClient.WithToken(token),
			Derivatives: derivativeClient.WithToken(token),
			Users:       userSource.WithToken(token),
		}
		if viewerHost != nil {
			host := viewerHost.WithToken(token)
			b.Host = panel.NewHTTPHost(host, panelID)
			b.Loader = viewer.NewHTTPLoader(host, panelID)
		}
		return b
	}, nil
}
