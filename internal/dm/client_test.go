package dm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubview/api/internal/remote"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	transport, err := remote.NewClient(srv.URL, remote.Options{MaxAttempts: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	return NewClient(transport)
}

func TestGetHubs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hubs", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"h1","type":"hubs","attributes":{"name":"Acme","extension":{"type":"hubs:autodesk.bim360:Account"}}}]}`))
	}))

	hubs, err := client.GetHubs(context.Background())
	require.NoError(t, err)
	require.Len(t, hubs, 1)
	assert.Equal(t, "h1", hubs[0].ID)
	assert.Equal(t, "Acme", hubs[0].Attributes.Name)
	assert.Equal(t, "BIM 360: Acme", TabTitle(hubs[0]))
}

func TestGetItemVersionsPreservesOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/p1/i1/versions", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"id":"v1","attributes":{"fileType":"rvt","versionNumber":1}},
			{"id":"v3","attributes":{"fileType":"rvt","versionNumber":3}},
			{"id":"v2","attributes":{"fileType":"rvt","versionNumber":2}}
		]}`))
	}))

	versions, err := client.GetItemVersions(context.Background(), "p1", "i1")
	require.NoError(t, err)
	ids := []string{versions[0].ID, versions[1].ID, versions[2].ID}
	assert.Equal(t, []string{"v1", "v3", "v2"}, ids)
}

func TestGetItemVersionsEmptyIsNonNil(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	}))

	versions, err := client.GetItemVersions(context.Background(), "p1", "i1")
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)
}

func TestServiceErrorSurfaces(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden project", http.StatusForbidden)
	}))

	_, err := client.GetProjects(context.Background(), "h1")
	require.Error(t, err)
	assert.True(t, remote.IsStatus(err, http.StatusForbidden))
}

func TestFolderNavigationPaths(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"f1","type":"folders","attributes":{"displayName":"Plans"}},{"id":"i1","type":"items","attributes":{"displayName":"tower.rvt"}}]}`))
	}))

	top, err := client.GetTopFolders(context.Background(), "h1", "p1")
	require.NoError(t, err)
	assert.True(t, top[0].IsFolder())
	assert.False(t, top[1].IsFolder())

	_, err = client.GetFolderContents(context.Background(), "p1", "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/hubs/h1/projects/p1/topFolders", "/projects/p1/folders/f1/content"}, paths)
}

func TestVersionContentID(t *testing.T) {
	client := &Client{}

	withDerivative := Version{ID: "urn:v1", Relationships: VersionRelationships{
		Derivatives: Relationship{Data: &RelationshipData{ID: "dXJuOnYx"}},
	}}
	id, err := client.VersionContentID(withDerivative)
	require.NoError(t, err)
	assert.Equal(t, ContentID("dXJuOnYx"), id)

	id, err = client.VersionContentID(Version{ID: "urn:v1"})
	require.NoError(t, err)
	assert.Equal(t, ContentID("dXJuOnYx"), id)

	_, err = client.VersionContentID(Version{})
	assert.True(t, remote.IsStatus(err, http.StatusUnprocessableEntity))
}

func TestHubHeader(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"hubs:autodesk.bim360:Account", "BIM 360"},
		{"hubs:autodesk.core:Hub", "A360"},
		{"hubs:autodesk.a360:PersonalHub", "Personal"},
		{"", "Hub"},
		{"hubs:custom", "hubs:custom"},
	}
	for _, tc := range tests {
		hub := Hub{Attributes: HubAttributes{Extension: Extension{Type: tc.kind}}}
		assert.Equal(t, tc.want, HubHeader(hub), tc.kind)
	}
}
