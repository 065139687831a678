package enrich

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubview/api/internal/derivative"
	"hubview/api/internal/dm"
	"hubview/api/internal/remote"
	"hubview/api/internal/testutil"
	"hubview/api/internal/tree"
)

type fakeVersions struct {
	getItemVersionsFn  func(context.Context, string, string) ([]dm.Version, error)
	versionContentIDFn func(dm.Version) (dm.ContentID, error)
}

func (f *fakeVersions) GetItemVersions(ctx context.Context, projectID, itemID string) ([]dm.Version, error) {
	if f.getItemVersionsFn != nil {
		return f.getItemVersionsFn(ctx, projectID, itemID)
	}
	return nil, nil
}

func (f *fakeVersions) VersionContentID(v dm.Version) (dm.ContentID, error) {
	if f.versionContentIDFn != nil {
		return f.versionContentIDFn(v)
	}
	return dm.ContentID("urn-" + v.ID), nil
}

type fakeDerivatives struct {
	manifestCalls  atomic.Int32
	thumbnailCalls atomic.Int32
	getManifestFn  func(context.Context, dm.ContentID) (derivative.Manifest, error)
	getThumbnailFn func(context.Context, dm.ContentID, derivative.ThumbnailOptions) (string, error)
}

func (f *fakeDerivatives) GetManifest(ctx context.Context, id dm.ContentID) (derivative.Manifest, error) {
	f.manifestCalls.Add(1)
	if f.getManifestFn != nil {
		return f.getManifestFn(ctx, id)
	}
	return derivative.Manifest{}, nil
}

func (f *fakeDerivatives) GetThumbnail(ctx context.Context, id dm.ContentID, opts derivative.ThumbnailOptions) (string, error) {
	f.thumbnailCalls.Add(1)
	if f.getThumbnailFn != nil {
		return f.getThumbnailFn(ctx, id, opts)
	}
	return "", &remote.ServiceError{Status: http.StatusNotFound, Message: "no thumbnail"}
}

func mustManifest(t *testing.T, doc string) derivative.Manifest {
	t.Helper()
	m, err := derivative.ParseManifest([]byte(doc))
	require.NoError(t, err)
	return m
}

const geometryDoc = `{"derivatives":[{"children":[{"type":"geometry","role":"3d"}]}]}`

func versionsOf(ids ...string) func(context.Context, string, string) ([]dm.Version, error) {
	return func(context.Context, string, string) ([]dm.Version, error) {
		out := make([]dm.Version, 0, len(ids))
		for _, id := range ids {
			out = append(out, dm.Version{ID: id, Attributes: dm.VersionAttributes{FileType: "rvt"}})
		}
		return out, nil
	}
}

func newItemNode() *tree.Node {
	return tree.NewNode(tree.Identity{ID: "n1", Kind: tree.KindItem, Name: "tower.rvt", ProjectID: "p1", ItemID: "i1"})
}

func newPipeline(t *testing.T, v *fakeVersions, d *fakeDerivatives, opts Options) *Pipeline {
	t.Helper()
	opts.Logger = testutil.NewTestLogger(t)
	return New(v, d, opts)
}

func TestEnrichFullyPopulatesNode(t *testing.T) {
	var gotOpts derivative.ThumbnailOptions
	d := &fakeDerivatives{
		getManifestFn: func(context.Context, dm.ContentID) (derivative.Manifest, error) {
			return mustManifest(t, geometryDoc), nil
		},
		getThumbnailFn: func(_ context.Context, _ dm.ContentID, opts derivative.ThumbnailOptions) (string, error) {
			gotOpts = opts
			return "iVBORw0KGgo=", nil
		},
	}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v1")}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	require.NotNil(t, snap.ActiveVersion)
	assert.Equal(t, "v1", snap.ActiveVersion.ID)
	assert.Equal(t, dm.ContentID("urn-v1"), snap.ViewerRef)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", snap.Thumbnail)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Enriched)
	assert.Equal(t, derivative.ThumbnailOptions{Size: 200, Base64: true}, gotOpts)
}

func TestEnrichEmptyVersions(t *testing.T) {
	d := &fakeDerivatives{}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf()}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.Nil(t, snap.ActiveVersion)
	assert.Empty(t, snap.ViewerRef)
	assert.Empty(t, snap.Thumbnail)
	assert.False(t, snap.Loading)
	assert.Zero(t, d.manifestCalls.Load())
	assert.Zero(t, d.thumbnailCalls.Load())
}

func TestEnrichActiveVersionIsFirstElement(t *testing.T) {
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v2", "v9", "v1")}, &fakeDerivatives{}, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	require.NotNil(t, snap.ActiveVersion)
	assert.Equal(t, "v2", snap.ActiveVersion.ID)
	assert.Equal(t, []string{"v2", "v9", "v1"}, []string{snap.Versions[0].ID, snap.Versions[1].ID, snap.Versions[2].ID})
}

func TestEnrichManifestFailureStillFetchesThumbnail(t *testing.T) {
	d := &fakeDerivatives{
		getManifestFn: func(context.Context, dm.ContentID) (derivative.Manifest, error) {
			return derivative.Manifest{}, &remote.ServiceError{Status: http.StatusNotFound, Message: "not translated"}
		},
		getThumbnailFn: func(context.Context, dm.ContentID, derivative.ThumbnailOptions) (string, error) {
			return "AAAA", nil
		},
	}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v1")}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.Empty(t, snap.ViewerRef)
	assert.Equal(t, int32(1), d.thumbnailCalls.Load())
	assert.Equal(t, "data:image/png;base64,AAAA", snap.Thumbnail)
	assert.False(t, snap.Loading)
}

func TestEnrichThumbnailFailureKeepsViewerRef(t *testing.T) {
	d := &fakeDerivatives{
		getManifestFn: func(context.Context, dm.ContentID) (derivative.Manifest, error) {
			return mustManifest(t, geometryDoc), nil
		},
	}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v1")}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.Equal(t, dm.ContentID("urn-v1"), snap.ViewerRef)
	assert.Empty(t, snap.Thumbnail)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Loadable())
}

func TestEnrichWithoutGeometryIsNotLoadable(t *testing.T) {
	d := &fakeDerivatives{
		getManifestFn: func(context.Context, dm.ContentID) (derivative.Manifest, error) {
			return mustManifest(t, `{"derivatives":[{"children":[{"type":"resource","role":"thumbnail"}]}]}`), nil
		},
	}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v1")}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.NotNil(t, snap.ActiveVersion)
	assert.False(t, snap.Loadable())
}

func TestEnrichVersionFailureClearsLoading(t *testing.T) {
	v := &fakeVersions{getItemVersionsFn: func(context.Context, string, string) ([]dm.Version, error) {
		return nil, &remote.ServiceError{Status: http.StatusBadGateway, Message: "upstream"}
	}}
	p := newPipeline(t, v, &fakeDerivatives{}, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.Nil(t, snap.Versions)
	assert.Nil(t, snap.ActiveVersion)
	assert.False(t, snap.Loading)
}

func TestEnrichContentIDFailureSkipsDerivatives(t *testing.T) {
	v := &fakeVersions{
		getItemVersionsFn: versionsOf("v1"),
		versionContentIDFn: func(dm.Version) (dm.ContentID, error) {
			return "", errors.New("no locator")
		},
	}
	d := &fakeDerivatives{}
	p := newPipeline(t, v, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)

	snap := node.Snapshot()
	assert.NotNil(t, snap.ActiveVersion)
	assert.Zero(t, d.manifestCalls.Load())
	assert.False(t, snap.Loading)
}

func TestEnrichIsIdempotent(t *testing.T) {
	d := &fakeDerivatives{
		getManifestFn: func(context.Context, dm.ContentID) (derivative.Manifest, error) {
			return mustManifest(t, geometryDoc), nil
		},
		getThumbnailFn: func(context.Context, dm.ContentID, derivative.ThumbnailOptions) (string, error) {
			return "AAAA", nil
		},
	}
	p := newPipeline(t, &fakeVersions{getItemVersionsFn: versionsOf("v1", "v0")}, d, Options{})
	node := newItemNode()

	p.Enrich(context.Background(), node)
	first := node.Snapshot()
	p.Enrich(context.Background(), node)
	second := node.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), d.manifestCalls.Load())
}

func TestEnrichDiscardsResultsForUnmountedNode(t *testing.T) {
	node := newItemNode()
	release := make(chan struct{})
	v := &fakeVersions{getItemVersionsFn: func(context.Context, string, string) ([]dm.Version, error) {
		<-release
		return []dm.Version{{ID: "v1"}}, nil
	}}
	d := &fakeDerivatives{}
	p := newPipeline(t, v, d, Options{})

	done := make(chan struct{})
	go func() {
		p.Enrich(context.Background(), node)
		close(done)
	}()
	node.Unmount()
	close(release)
	<-done

	snap := node.Snapshot()
	assert.Nil(t, snap.ActiveVersion)
	assert.Zero(t, d.manifestCalls.Load())
}

func TestEnrichAllRunsSiblingsIndependently(t *testing.T) {
	v := &fakeVersions{getItemVersionsFn: func(_ context.Context, _ string, itemID string) ([]dm.Version, error) {
		if itemID == "broken" {
			return nil, &remote.ServiceError{Status: http.StatusInternalServerError, Message: "boom"}
		}
		return []dm.Version{{ID: "v-" + itemID}}, nil
	}}
	var observed sync.Map
	p := newPipeline(t, v, &fakeDerivatives{}, Options{
		Observer: func(s tree.Snapshot) { observed.Store(s.ID, true) },
	})

	good := tree.NewNode(tree.Identity{ID: "good", ProjectID: "p1", ItemID: "ok"})
	bad := tree.NewNode(tree.Identity{ID: "bad", ProjectID: "p1", ItemID: "broken"})
	p.EnrichAll(context.Background(), []*tree.Node{good, bad})

	assert.Equal(t, "v-ok", good.Snapshot().ActiveVersion.ID)
	assert.Nil(t, bad.Snapshot().ActiveVersion)
	assert.False(t, bad.Snapshot().Loading)
	_, okGood := observed.Load("good")
	_, okBad := observed.Load("bad")
	assert.True(t, okGood)
	assert.True(t, okBad)
}

func TestEnrichRespectsInFlightCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	v := &fakeVersions{getItemVersionsFn: func(context.Context, string, string) ([]dm.Version, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}}
	p := newPipeline(t, v, &fakeDerivatives{}, Options{MaxInFlight: 2})

	nodes := make([]*tree.Node, 0, 8)
	for i := 0; i < 8; i++ {
		nodes = append(nodes, tree.NewNode(tree.Identity{ID: string(rune('a' + i))}))
	}
	p.EnrichAll(context.Background(), nodes)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, n := range nodes {
		assert.False(t, n.Snapshot().Loading)
	}
}
