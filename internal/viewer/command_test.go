package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubview/api/internal/dm"
	"hubview/api/internal/remote"
	"hubview/api/internal/testutil"
	"hubview/api/internal/tree"
)

func loadableNode(t *testing.T) *tree.Node {
	t.Helper()
	node := tree.NewNode(tree.Identity{ID: "n1", Kind: tree.KindItem, Name: "Tower.v2.rvt", ProjectID: "p1", ItemID: "i1"})
	node.Update(func(b *tree.Bundle) {
		v := dm.Version{ID: "v1"}
		v.Attributes.FileType = "rvt"
		b.Versions = []dm.Version{v}
		b.ActiveVersion = &v
		b.ViewerRef = "dXJuOnYx"
		b.Loading = false
	})
	return node
}

func TestLoadSendsOneRequest(t *testing.T) {
	node := loadableNode(t)
	var specs []ModelSpec
	var loadingDuringCall bool
	loader := LoaderFunc(func(_ context.Context, spec ModelSpec) error {
		loadingDuringCall = node.Snapshot().Loading
		specs = append(specs, spec)
		return nil
	})
	var results []Result
	cmd := NewCommand(loader, Options{OwnerID: "owner-1", OnSettled: func(r Result) { results = append(results, r) }, Logger: testutil.NewTestLogger(t)})

	require.NoError(t, cmd.Load(context.Background(), node))

	require.Len(t, specs, 1)
	assert.Equal(t, ModelSpec{
		FileType: "rvt",
		Name:     "Tower",
		OwnerID:  "owner-1",
		Env:      "AutodeskProduction",
		Database: "configurator",
		Model:    ModelRef{Proxy: "lmv-proxy-3legged", URN: "dXJuOnYx"},
	}, specs[0])
	assert.True(t, loadingDuringCall)
	assert.False(t, node.Snapshot().Loading)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "n1", results[0].Node.ID)
}

func TestLoadFailureClearsLoading(t *testing.T) {
	node := loadableNode(t)
	boom := errors.New("viewer crashed")
	cmd := NewCommand(LoaderFunc(func(context.Context, ModelSpec) error { return boom }), Options{Logger: testutil.NewTestLogger(t)})

	err := cmd.Load(context.Background(), node)
	assert.ErrorIs(t, err, boom)
	assert.False(t, node.Snapshot().Loading)
}

func TestLoadingSurvivesReenrichmentDuringLoad(t *testing.T) {
	node := loadableNode(t)
	var loadingAfterReenrich bool
	loader := LoaderFunc(func(context.Context, ModelSpec) error {
		node.Update(func(b *tree.Bundle) { *b = tree.Bundle{Loading: true} })
		node.Update(func(b *tree.Bundle) { b.Loading = false; b.Enriched = true })
		loadingAfterReenrich = node.Snapshot().Loading
		return nil
	})
	cmd := NewCommand(loader, Options{Logger: testutil.NewTestLogger(t)})

	require.NoError(t, cmd.Load(context.Background(), node))
	assert.True(t, loadingAfterReenrich)
	assert.False(t, node.Snapshot().Loading)
}

func TestLoadPreconditions(t *testing.T) {
	calls := 0
	cmd := NewCommand(LoaderFunc(func(context.Context, ModelSpec) error { calls++; return nil }), Options{Logger: testutil.NewTestLogger(t)})

	bare := tree.NewNode(tree.Identity{ID: "empty", Name: "Empty.dwg"})
	bare.Update(func(b *tree.Bundle) { b.Versions = []dm.Version{}; b.Loading = false })

	err := cmd.Load(context.Background(), bare)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "empty", pre.NodeID)
	assert.Equal(t, []string{"activeVersion", "viewerRef"}, pre.Missing)

	noGeometry := loadableNode(t)
	noGeometry.Update(func(b *tree.Bundle) { b.ViewerRef = "" })
	err = cmd.Load(context.Background(), noGeometry)
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, []string{"viewerRef"}, pre.Missing)

	assert.Zero(t, calls)
	assert.False(t, bare.Snapshot().Loading)
}

func TestLoadUnmountedNode(t *testing.T) {
	node := loadableNode(t)
	node.Unmount()
	calls := 0
	cmd := NewCommand(LoaderFunc(func(context.Context, ModelSpec) error { calls++; return nil }), Options{Logger: testutil.NewTestLogger(t)})

	assert.ErrorIs(t, cmd.Load(context.Background(), node), ErrNodeUnmounted)
	assert.Zero(t, calls)
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"Tower.rvt":    "Tower",
		"Tower.v2.rvt": "Tower",
		"Tower":        "Tower",
		".hidden":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, DisplayName(in), in)
	}
}

func TestHTTPLoaderPostsSpec(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	transport, err := remote.NewClient(srv.URL, remote.Options{MaxAttempts: 1})
	require.NoError(t, err)
	cmd := NewCommand(NewHTTPLoader(transport, "p1"), Options{OwnerID: "o", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, cmd.Load(context.Background(), loadableNode(t)))

	assert.Equal(t, "/panels/p1/models", path)
	assert.Equal(t, "rvt", got["fileType"])
	assert.Equal(t, "Tower", got["name"])
	assert.Equal(t, "o", got["ownerId"])
	assert.Equal(t, map[string]any{"proxy": "lmv-proxy-3legged", "urn": "dXJuOnYx"}, got["model"])
}

func TestHTTPLoaderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"bad urn"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	transport, err := remote.NewClient(srv.URL, remote.Options{MaxAttempts: 1})
	require.NoError(t, err)
	node := loadableNode(t)
	err = NewCommand(NewHTTPLoader(transport, "p1"), Options{Logger: testutil.NewTestLogger(t)}).Load(context.Background(), node)
	assert.True(t, remote.IsStatus(err, http.StatusBadRequest))
	assert.False(t, node.Snapshot().Loading)
}
