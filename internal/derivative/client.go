// Package derivative is a typed accessor over the remote derivative-conversion API.
package derivative

import (
	"context"
	"net/url"
	"strconv"

	"hubview/api/internal/dm"
	"hubview/api/internal/remote"
)

// ThumbnailOptions selects the rendition returned by GetThumbnail.
type ThumbnailOptions struct {
	Size   int
	Base64 bool
}

type Client struct {
	http *remote.Client
}

func NewClient(transport *remote.Client) *Client {
	return &Client{http: transport}
}

func (c *Client) WithToken(token string) *Client {
	return &Client{http: c.http.WithToken(token)}
}

// GetManifest fails with *remote.ServiceError when the identifier is unknown
// or conversion has not completed.
func (c *Client) GetManifest(ctx context.Context, id dm.ContentID) (Manifest, error) {
	var m Manifest
	if err := c.http.GetJSON(ctx, "/manifest/"+url.PathEscape(id.String()), nil, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// GetThumbnail fails with *remote.ServiceError when no thumbnail exists.
func (c *Client) GetThumbnail(ctx context.Context, id dm.ContentID, opts ThumbnailOptions) (string, error) {
	query := url.Values{}
	if opts.Size > 0 {
		query.Set("size", strconv.Itoa(opts.Size))
	}
	query.Set("base64", strconv.FormatBool(opts.Base64))
	return c.http.GetText(ctx, "/thumbnail/"+url.PathEscape(id.String()), query)
}
