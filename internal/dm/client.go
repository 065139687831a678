// Package dm is a typed accessor over the remote document-management API.
package dm

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"hubview/api/internal/remote"
)

// Client lists hubs, projects, folders, items and versions.
// Every method fails with *remote.ServiceError on a non-success response.
type Client struct {
	http *remote.Client
}

func NewClient(transport *remote.Client) *Client {
	return &Client{http: transport}
}

// WithToken returns a client that forwards the given user token.
func (c *Client) WithToken(token string) *Client {
	return &Client{http: c.http.WithToken(token)}
}

type envelope[T any] struct {
	Data []T `json:"data"`
}

func (c *Client) GetHubs(ctx context.Context) ([]Hub, error) {
	var out envelope[Hub]
	if err := c.http.GetJSON(ctx, "/hubs", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Data), nil
}

func (c *Client) GetProjects(ctx context.Context, hubID string) ([]Project, error) {
	var out envelope[Project]
	if err := c.http.GetJSON(ctx, "/hubs/"+url.PathEscape(hubID)+"/projects", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Data), nil
}

func (c *Client) GetTopFolders(ctx context.Context, hubID, projectID string) ([]Entry, error) {
	var out envelope[Entry]
	path := "/hubs/" + url.PathEscape(hubID) + "/projects/" + url.PathEscape(projectID) + "/topFolders"
	if err := c.http.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Data), nil
}

func (c *Client) GetFolderContents(ctx context.Context, projectID, folderID string) ([]Entry, error) {
	var out envelope[Entry]
	path := "/projects/" + url.PathEscape(projectID) + "/folders/" + url.PathEscape(folderID) + "/content"
	if err := c.http.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Data), nil
}

// GetItemVersions returns the item's versions in service order. The service
// returns them most-recent-first; callers rely on that and must not re-sort.
func (c *Client) GetItemVersions(ctx context.Context, projectID, itemID string) ([]Version, error) {
	var out envelope[Version]
	path := "/items/" + url.PathEscape(projectID) + "/" + url.PathEscape(itemID) + "/versions"
	if err := c.http.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Data), nil
}

// VersionContentID resolves the derivative identifier of a version: the
// derivatives relationship when present, otherwise the unpadded URL-safe
// base64 of the version id.
func (c *Client) VersionContentID(version Version) (ContentID, error) {
	if rel := version.Relationships.Derivatives.Data; rel != nil && strings.TrimSpace(rel.ID) != "" {
		return ContentID(strings.TrimSpace(rel.ID)), nil
	}
	id := strings.TrimSpace(version.ID)
	if id == "" {
		return "", &remote.ServiceError{
			Status:  http.StatusUnprocessableEntity,
			Message: "version has no content locator",
		}
	}
	return ContentID(base64.RawURLEncoding.EncodeToString([]byte(id))), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
