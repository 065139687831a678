package app

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hubview/api/internal/config"
	"hubview/api/internal/derivative"
	"hubview/api/internal/dm"
	"hubview/api/internal/gate"
	"hubview/api/internal/remote"
	"hubview/api/internal/session"
	"hubview/api/internal/store"
	"hubview/api/internal/testutil"
	"hubview/api/internal/viewer"
)

type fakeDocs struct {
	hubCalls     atomic.Int32
	versionCalls atomic.Int32
	getHubsFn    func(context.Context) ([]dm.Hub, error)
	versionsFn   func(context.Context, string, string) ([]dm.Version, error)
	contentsFn   func(context.Context, string, string) ([]dm.Entry, error)
}

func (f *fakeDocs) GetHubs(ctx context.Context) ([]dm.Hub, error) {
	f.hubCalls.Add(1)
	if f.getHubsFn != nil {
		return f.getHubsFn(ctx)
	}
	return []dm.Hub{
		testHub("h1", "Acme", "hubs:autodesk.bim360:Account"),
		testHub("h2", "Mine", "hubs:autodesk.a360:PersonalHub"),
	}, nil
}

func (f *fakeDocs) GetProjects(context.Context, string) ([]dm.Project, error) {
	return []dm.Project{{ID: "p1", Attributes: dm.ProjectAttributes{Name: "Tower"}}}, nil
}

func (f *fakeDocs) GetTopFolders(context.Context, string, string) ([]dm.Entry, error) {
	return []dm.Entry{{ID: "f1", Type: dm.EntryFolder, Attributes: dm.EntryAttributes{DisplayName: "Project Files"}}}, nil
}

func (f *fakeDocs) GetFolderContents(ctx context.Context, projectID, folderID string) ([]dm.Entry, error) {
	if f.contentsFn != nil {
		return f.contentsFn(ctx, projectID, folderID)
	}
	return []dm.Entry{{ID: "i1", Type: dm.EntryItem, Attributes: dm.EntryAttributes{DisplayName: "Tower.rvt"}}}, nil
}

func (f *fakeDocs) GetItemVersions(ctx context.Context, projectID, itemID string) ([]dm.Version, error) {
	f.versionCalls.Add(1)
	if f.versionsFn != nil {
		return f.versionsFn(ctx, projectID, itemID)
	}
	return []dm.Version{testVersion("v1", "rvt")}, nil
}

func (f *fakeDocs) VersionContentID(v dm.Version) (dm.ContentID, error) {
	return dm.ContentID("urn-" + v.ID), nil
}

type fakeDerivatives struct{}

func (fakeDerivatives) GetManifest(context.Context, dm.ContentID) (derivative.Manifest, error) {
	return derivative.ParseManifest([]byte(`{"derivatives":[{"outputType":"svf","children":[{"type":"geometry","role":"3d"}]}]}`))
}

func (fakeDerivatives) GetThumbnail(context.Context, dm.ContentID, derivative.ThumbnailOptions) (string, error) {
	return "iVBORw0KGgo=", nil
}

type fakeUsers struct {
	mu       sync.Mutex
	session  *gate.Session
	getCalls atomic.Int32
}

func (f *fakeUsers) GetUser(context.Context) (gate.Session, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return gate.Session{}, &remote.ServiceError{Status: http.StatusUnauthorized, Message: "not logged in"}
	}
	return *f.session, nil
}

func (f *fakeUsers) Login(context.Context) (string, error) {
	return "https://auth.example.com/login", nil
}

func (f *fakeUsers) logIn(s gate.Session) {
	f.mu.Lock()
	f.session = &s
	f.mu.Unlock()
}

type fixture struct {
	docs     *fakeDocs
	users    *fakeUsers
	loader   viewer.Loader
	sessions *session.MemoryStore
	history  *store.MemoryStore
	tokens   []string
	mu       sync.Mutex
}

func newFixture() *fixture {
	return &fixture{
		docs:     &fakeDocs{},
		users:    &fakeUsers{session: &gate.Session{UserID: "u1", UserName: "Avery"}},
		sessions: session.NewMemoryStore(),
		history:  store.NewMemoryStore(),
	}
}

func (f *fixture) factory(_ string, token string) Backends {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	return Backends{Documents: f.docs, Derivatives: fakeDerivatives{}, Users: f.users, Loader: f.loader}
}

func testConfig() config.Config {
	return config.Config{
		LoginPollInterval: time.Hour,
		DeclineRedirect:   "/configurator",
		DockingPolicy:     "queue",
		PanelWidth:        350,
		PanelHeight:       250,
		ThumbnailSize:     200,
		ViewerEnv:         "AutodeskProduction",
		ViewerDatabase:    "configurator",
		ViewerProxy:       "lmv-proxy-3legged",
		OwnerID:           "owner-1",
		SessionTTL:        time.Hour,
		SessionSecret:     "test-secret-key-32-bytes-long!!",
		CORSOrigin:        "*",
	}
}

func (f *fixture) service(t *testing.T, hooks Hooks) *Service {
	t.Helper()
	svc := New(testConfig(), Options{
		Backends: f.factory,
		Sessions: f.sessions,
		History:  f.history,
		Hooks:    hooks,
		Logger:   testutil.NewTestLogger(t),
	})
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func testHub(id, name, kind string) dm.Hub {
	return dm.Hub{ID: id, Type: "hubs", Attributes: dm.HubAttributes{Name: name, Extension: dm.Extension{Type: kind}}}
}

func testVersion(id, fileType string) dm.Version {
	v := dm.Version{ID: id, Type: "versions"}
	v.Attributes.FileType = fileType
	return v
}
