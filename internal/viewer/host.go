package viewer

import (
	"context"
	"fmt"
	"net/url"

	"hubview/api/internal/remote"
)

// HTTPLoader forwards load requests to the viewer host service.
type HTTPLoader struct {
	http    *remote.Client
	panelID string
}

func NewHTTPLoader(transport *remote.Client, panelID string) *HTTPLoader {
	return &HTTPLoader{http: transport, panelID: panelID}
}

func (l *HTTPLoader) LoadModel(ctx context.Context, spec ModelSpec) error {
	return l.http.PostJSON(ctx, fmt.Sprintf("/panels/%s/models", url.PathEscape(l.panelID)), spec, nil)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, spec ModelSpec) error

func (f LoaderFunc) LoadModel(ctx context.Context, spec ModelSpec) error { return f(ctx, spec) }
