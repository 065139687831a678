package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"hubview/api/internal/dm"
	"hubview/api/internal/enrich"
	"hubview/api/internal/gate"
	"hubview/api/internal/notifier"
	"hubview/api/internal/panel"
	"hubview/api/internal/search"
	"hubview/api/internal/session"
	"hubview/api/internal/store"
	"hubview/api/internal/tree"
	"hubview/api/internal/viewer"
)

type HubState string

const (
	HubsPending HubState = "pending"
	HubsReady   HubState = "ready"
	HubsFailed  HubState = "failed"
	// HubsBlocked means the user declined to log in; hubs will never load.
	HubsBlocked HubState = "blocked"
)

// HubView is one hub as rendered in the tab strip.
type HubView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Header string `json:"header"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

type PanelStatus struct {
	ID          string            `json:"id"`
	Dock        panel.DockState   `json:"dock"`
	Mounted     bool              `json:"mounted"`
	Gate        gate.Status       `json:"gate"`
	Hubs        HubState          `json:"hubs"`
	HubError    string            `json:"hubError,omitempty"`
	ActiveTab   string            `json:"activeTab,omitempty"`
	Title       string            `json:"title,omitempty"`
	Nodes       int               `json:"nodes"`
	PendingLoad *viewer.ModelSpec `json:"pendingLoad,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Panel is one embedded document browser: its session gate, docking
// controller, node tree and the enrichment and load commands built once a
// session exists.
type Panel struct {
	id        string
	createdAt time.Time
	svc       *Service
	logger    *slog.Logger

	gate     *gate.Gate
	dock     *panel.Controller
	nodes    *tree.Registry
	notifier *notifier.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// indexMu orders search indexing against node removal.
	indexMu sync.Mutex

	mu          sync.RWMutex
	token       string
	tokenHash   string
	closed      bool
	session     *gate.Session
	docs        DocumentService
	pipeline    *enrich.Pipeline
	command     *viewer.Command
	hubState    HubState
	hubErr      string
	hubs        []dm.Hub
	activeTab   string
	pendingLoad *viewer.ModelSpec
}

func newPanel(ctx context.Context, svc *Service, id, token string) (*Panel, error) {
	p := &Panel{
		id:        id,
		createdAt: time.Now().UTC(),
		svc:       svc,
		logger:    svc.logger.With("panel", id),
		nodes:     tree.NewRegistry(),
		notifier:  notifier.New(),
		hubState:  HubsPending,
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.setToken(token)

	backends := p.backends()
	host := backends.Host
	if host == nil {
		host = panel.NewMemoryHost()
	}

	var preauth *gate.Session
	if p.tokenHash != "" {
		if cached, err := svc.sessions.LookupSession(ctx, p.tokenHash); err == nil {
			preauth = &cached
		} else if !errors.Is(err, session.ErrNotFound) {
			p.logger.Warn("session cache lookup failed", "error", err)
		}
	}

	p.gate = gate.New(panelUsers{p}, gate.Options{
		Preauthenticated: preauth,
		PollInterval:     svc.cfg.LoginPollInterval,
		DeclineRedirect:  svc.cfg.DeclineRedirect,
		OnChange:         func(gate.Status) { p.notifier.Broadcast() },
		Logger:           p.logger,
	})

	policy := panel.Queue
	if svc.cfg.DockingPolicy == "reject" {
		policy = panel.Reject
	}
	p.dock = panel.New(host, panel.Options{
		Policy:     policy,
		DockedSize: panel.Size{Width: svc.cfg.PanelWidth, Height: svc.cfg.PanelHeight},
		OnChange:   func(panel.DockState) { p.notifier.Broadcast() },
		Logger:     p.logger,
	})
	if err := p.dock.Mount(ctx); err != nil {
		p.cancel()
		p.gate.Close()
		return nil, err
	}

	p.background(p.run)
	return p, nil
}

func (p *Panel) ID() string { return p.id }

// run waits for a session, then builds the session-bound commands and
// fetches hubs. Nothing touches the document service before the gate opens.
func (p *Panel) run(ctx context.Context) {
	s, err := p.gate.EnsureSession(ctx)
	if err != nil {
		if errors.Is(err, gate.ErrSessionRequired) {
			p.mu.Lock()
			p.hubState = HubsBlocked
			p.mu.Unlock()
			p.notifier.Broadcast()
			p.logger.Info("login declined, panel abandoned")
		}
		return
	}

	backends := p.backends()
	cfg := p.svc.cfg
	loader := backends.Loader
	if loader == nil {
		loader = viewer.LoaderFunc(p.handOffToBrowser)
	}

	p.mu.Lock()
	p.session = &s
	p.docs = backends.Documents
	p.pipeline = enrich.New(backends.Documents, backends.Derivatives, enrich.Options{
		ThumbnailSize: cfg.ThumbnailSize,
		MaxInFlight:   cfg.MaxInflightEnrichments,
		Observer:      p.nodeEnriched,
		Logger:        p.logger,
	})
	p.command = viewer.NewCommand(loader, viewer.Options{
		OwnerID:   cfg.OwnerID,
		Env:       cfg.ViewerEnv,
		Database:  cfg.ViewerDatabase,
		Proxy:     cfg.ViewerProxy,
		OnSettled: p.loadSettled,
		Logger:    p.logger,
	})
	tokenHash := p.tokenHash
	p.mu.Unlock()

	if tokenHash != "" {
		if err := p.svc.sessions.SaveSession(ctx, tokenHash, s, cfg.SessionTTL); err != nil {
			p.logger.Warn("cache session", "error", err)
		}
	}
	p.logger.Info("session established", "user", s.UserID)
	p.loadHubs(ctx)
}

func (p *Panel) loadHubs(ctx context.Context) {
	p.mu.Lock()
	p.hubState = HubsPending
	p.hubErr = ""
	docs := p.docs
	p.mu.Unlock()
	p.notifier.Broadcast()

	hubs, err := docs.GetHubs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("hub fetch failed", "error", err)
		p.mu.Lock()
		p.hubState = HubsFailed
		p.hubErr = err.Error()
		p.mu.Unlock()
		p.notifier.Broadcast()
		return
	}

	p.mu.Lock()
	p.hubState = HubsReady
	p.hubs = hubs
	if len(hubs) > 0 {
		p.activeTab = hubs[0].ID
	}
	p.mu.Unlock()
	p.notifier.Broadcast()
}

// RetryHubs refetches hubs after a failed attempt.
func (p *Panel) RetryHubs() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPanelClosed
	}
	if p.hubState != HubsFailed {
		state := p.hubState
		p.mu.Unlock()
		return domainError(http.StatusConflict, "HUBS_NOT_FAILED", "Hubs can only be retried after a failure", map[string]any{"state": state})
	}
	p.hubState = HubsPending
	p.mu.Unlock()
	p.background(p.loadHubs)
	return nil
}

func (p *Panel) Hubs() ([]HubView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.hubState {
	case HubsReady:
	case HubsBlocked:
		return nil, gate.ErrSessionRequired
	case HubsFailed:
		return nil, domainError(http.StatusBadGateway, "HUBS_FAILED", "Hubs could not be loaded", map[string]any{"error": p.hubErr})
	default:
		return nil, errHubsNotReady
	}
	views := make([]HubView, 0, len(p.hubs))
	for _, hub := range p.hubs {
		views = append(views, HubView{
			ID:     hub.ID,
			Name:   hub.Attributes.Name,
			Type:   hub.Attributes.Extension.Type,
			Header: dm.HubHeader(hub),
			Title:  dm.TabTitle(hub),
			Active: hub.ID == p.activeTab,
		})
	}
	return views, nil
}

func (p *Panel) SelectTab(hubID string) error {
	p.mu.Lock()
	if p.hubState != HubsReady {
		p.mu.Unlock()
		return errHubsNotReady
	}
	found := false
	for _, hub := range p.hubs {
		if hub.ID == hubID {
			found = true
			break
		}
	}
	if !found {
		p.mu.Unlock()
		return domainError(http.StatusNotFound, "HUB_NOT_FOUND", "Hub not found", map[string]any{"hubId": hubID})
	}
	p.activeTab = hubID
	p.mu.Unlock()
	p.notifier.Broadcast()
	return nil
}

func (p *Panel) SetDocking(ctx context.Context, docked bool) error {
	if err := p.open(); err != nil {
		return err
	}
	return p.dock.SetDocking(ctx, docked)
}

func (p *Panel) ToggleDocking(ctx context.Context) error {
	if err := p.open(); err != nil {
		return err
	}
	return p.dock.Toggle(ctx)
}

// Confirm answers the login prompt with yes and returns the login URL.
func (p *Panel) Confirm(ctx context.Context) (string, error) {
	return p.gate.Confirm(ctx)
}

// Decline answers the login prompt with no and returns where to send the user.
func (p *Panel) Decline() (string, error) {
	return p.gate.Decline()
}

// AttachToken hands the panel the token obtained by the external login flow
// and makes the gate check for a session right away.
func (p *Panel) AttachToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "A bearer token is required", nil)
	}
	if err := p.open(); err != nil {
		return err
	}
	p.setToken(token)
	p.gate.Recheck()
	return nil
}

// CreateNode registers a node created by the tree widget. Item nodes are
// enriched in the background; other kinds have nothing to fetch.
func (p *Panel) CreateNode(identity tree.Identity) (tree.Snapshot, error) {
	if err := validateIdentity(identity); err != nil {
		return tree.Snapshot{}, err
	}
	deps, err := p.sessionDeps()
	if err != nil {
		return tree.Snapshot{}, err
	}

	node, err := p.addNode(identity)
	if err != nil {
		return tree.Snapshot{}, err
	}
	if identity.Kind == tree.KindItem {
		p.background(func(ctx context.Context) { deps.pipeline.Enrich(ctx, node) })
	}
	p.notifier.Broadcast()
	return node.Snapshot(), nil
}

// addNode registers a node and reports it to the node-created hook. Only
// item nodes keep their loading indicator; they are about to be enriched.
func (p *Panel) addNode(identity tree.Identity) (*tree.Node, error) {
	node := tree.NewNode(identity)
	if err := p.nodes.Add(node); err != nil {
		return nil, domainError(http.StatusConflict, "NODE_EXISTS", "Node already exists", map[string]any{"nodeId": identity.ID})
	}
	if identity.Kind != tree.KindItem {
		node.Update(func(b *tree.Bundle) { b.Loading = false })
	}
	if hook := p.svc.hooks.OnNodeCreated; hook != nil {
		hook(p.id, node.Snapshot())
	}
	return node, nil
}

// Reenrich runs enrichment again for an item node.
func (p *Panel) Reenrich(nodeID string) error {
	deps, err := p.sessionDeps()
	if err != nil {
		return err
	}
	node, ok := p.nodes.Get(nodeID)
	if !ok {
		return errNodeNotFound
	}
	if node.Identity().Kind != tree.KindItem {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Only item nodes are enriched", nil)
	}
	p.background(func(ctx context.Context) { deps.pipeline.Enrich(ctx, node) })
	return nil
}

func (p *Panel) Node(nodeID string) (tree.Snapshot, error) {
	node, ok := p.nodes.Get(nodeID)
	if !ok {
		return tree.Snapshot{}, errNodeNotFound
	}
	return node.Snapshot(), nil
}

func (p *Panel) Nodes() []tree.Snapshot {
	return p.nodes.Snapshots()
}

// RemoveNode unmounts a node; enrichment still in flight for it is discarded.
func (p *Panel) RemoveNode(nodeID string) error {
	p.indexMu.Lock()
	removed := p.nodes.Remove(nodeID)
	if removed {
		p.svc.search.DeleteNodes(search.RecordID(p.id, nodeID))
	}
	p.indexMu.Unlock()
	if !removed {
		return errNodeNotFound
	}
	p.notifier.Broadcast()
	return nil
}

// Load sends an enriched node to the viewer and waits for the load to settle.
func (p *Panel) Load(ctx context.Context, nodeID string) error {
	deps, err := p.sessionDeps()
	if err != nil {
		return err
	}
	node, ok := p.nodes.Get(nodeID)
	if !ok {
		return errNodeNotFound
	}
	p.notifier.Broadcast()
	return deps.command.Load(ctx, node)
}

func (p *Panel) Projects(ctx context.Context, hubID string) ([]dm.Project, error) {
	deps, err := p.sessionDeps()
	if err != nil {
		return nil, err
	}
	return deps.docs.GetProjects(ctx, hubID)
}

func (p *Panel) TopFolders(ctx context.Context, hubID, projectID string) ([]dm.Entry, error) {
	deps, err := p.sessionDeps()
	if err != nil {
		return nil, err
	}
	return deps.docs.GetTopFolders(ctx, hubID, projectID)
}

// FolderContents lists a folder and registers its children as tree nodes,
// the way an expanded folder creates them in the widget. New item children
// are enriched together in the background; children already known are left
// alone.
func (p *Panel) FolderContents(ctx context.Context, projectID, folderID string) ([]dm.Entry, error) {
	deps, err := p.sessionDeps()
	if err != nil {
		return nil, err
	}
	entries, err := deps.docs.GetFolderContents(ctx, projectID, folderID)
	if err != nil {
		return nil, err
	}

	var items []*tree.Node
	for _, entry := range entries {
		identity := tree.Identity{
			ID:        entry.ID,
			ParentID:  folderID,
			Kind:      tree.KindFolder,
			Name:      entry.Attributes.DisplayName,
			ProjectID: projectID,
		}
		if !entry.IsFolder() {
			identity.Kind = tree.KindItem
			identity.ItemID = entry.ID
		}
		if _, known := p.nodes.Get(identity.ID); known || identity.ID == "" {
			continue
		}
		node, err := p.addNode(identity)
		if err != nil {
			// created concurrently by the widget
			continue
		}
		if identity.Kind == tree.KindItem {
			items = append(items, node)
		}
	}
	if len(items) > 0 {
		p.background(func(ctx context.Context) { deps.pipeline.EnrichAll(ctx, items) })
	}
	p.notifier.Broadcast()
	return entries, nil
}

func (p *Panel) Loads(ctx context.Context, limit int) ([]store.LoadRequest, error) {
	return p.svc.history.ListLoadRequests(ctx, p.id, limit)
}

func (p *Panel) Search(text string, loadableOnly bool) search.Response {
	return p.svc.search.Search(search.Query{Text: text, PanelID: p.id, LoadableOnly: loadableOnly})
}

func (p *Panel) Status() PanelStatus {
	dock, mounted := p.dock.State()
	status := PanelStatus{
		ID:        p.id,
		Dock:      dock,
		Mounted:   mounted,
		Gate:      p.gate.Status(),
		Nodes:     p.nodes.Len(),
		CreatedAt: p.createdAt,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	status.Hubs = p.hubState
	status.HubError = p.hubErr
	status.ActiveTab = p.activeTab
	for _, hub := range p.hubs {
		if hub.ID == p.activeTab {
			status.Title = dm.TabTitle(hub)
		}
	}
	if p.pendingLoad != nil {
		spec := *p.pendingLoad
		status.PendingLoad = &spec
	}
	return status
}

// Subscribe returns a channel pinged on every state change.
func (p *Panel) Subscribe() chan struct{} { return p.notifier.Subscribe() }

func (p *Panel) Unsubscribe(ch chan struct{}) { p.notifier.Unsubscribe(ch) }

// Authorized reports whether a request carrying token, or a cookie bound to
// panelID, may act on this panel.
func (p *Panel) Authorized(token, cookiePanelID string) bool {
	if cookiePanelID != "" && cookiePanelID == p.id {
		return true
	}
	if token == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokenHash != "" && session.HashToken(token) == p.tokenHash
}

// Close tears the panel down: waiting gate calls return, every node is
// unmounted and background work is awaited.
func (p *Panel) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.gate.Close()
	snapshots := p.nodes.Snapshots()
	p.nodes.UnmountAll()
	if err := p.dock.Unmount(ctx); err != nil {
		p.logger.Warn("unmount panel", "error", err)
	}
	p.wg.Wait()

	ids := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		ids = append(ids, search.RecordID(p.id, snap.ID))
	}
	p.svc.search.DeleteNodes(ids...)
	p.notifier.Close()
	p.logger.Info("panel closed")
}

type sessionDeps struct {
	docs     DocumentService
	pipeline *enrich.Pipeline
	command  *viewer.Command
}

// sessionDeps returns the session-bound collaborators, or the reason they
// do not exist yet.
func (p *Panel) sessionDeps() (sessionDeps, error) {
	p.mu.RLock()
	closed, ready := p.closed, p.session != nil
	deps := sessionDeps{docs: p.docs, pipeline: p.pipeline, command: p.command}
	p.mu.RUnlock()
	switch {
	case closed:
		return sessionDeps{}, errPanelClosed
	case ready:
		return deps, nil
	case p.gate.Status().State == gate.StateAbandoned:
		return sessionDeps{}, gate.ErrSessionRequired
	default:
		return sessionDeps{}, errSessionPending
	}
}

func (p *Panel) open() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPanelClosed
	}
	return nil
}

// background runs fn on the panel's context unless the panel is closed.
func (p *Panel) background(fn func(context.Context)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
}

func (p *Panel) setToken(token string) {
	token = strings.TrimSpace(token)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.tokenHash = ""
	if token != "" {
		p.tokenHash = session.HashToken(token)
	}
}

func (p *Panel) backends() Backends {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	return p.svc.backends(p.id, token)
}

// nodeEnriched indexes a node whose enrichment settled, unless the node was
// removed after the pipeline took its snapshot.
func (p *Panel) nodeEnriched(snap tree.Snapshot) {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if node, ok := p.nodes.Get(snap.ID); !ok || !node.Mounted() {
		return
	}

	var fileType string
	if snap.ActiveVersion != nil {
		fileType = snap.ActiveVersion.Attributes.FileType
	}
	p.svc.search.IndexNode(search.NodeRecord{
		ID:       search.RecordID(p.id, snap.ID),
		PanelID:  p.id,
		NodeID:   snap.ID,
		Kind:     string(snap.Kind),
		Name:     snap.Name,
		FileType: fileType,
		Loadable: snap.Loadable(),
	})
	p.notifier.Broadcast()
}

// handOffToBrowser is the loader used without a viewer host service: the
// spec is published in the panel status for the embedding page to load.
func (p *Panel) handOffToBrowser(_ context.Context, spec viewer.ModelSpec) error {
	p.mu.Lock()
	p.pendingLoad = &spec
	p.mu.Unlock()
	return nil
}

func (p *Panel) loadSettled(result viewer.Result) {
	req := store.LoadRequest{
		PanelID:     p.id,
		NodeID:      result.Node.ID,
		URN:         result.Spec.Model.URN,
		FileType:    result.Spec.FileType,
		Name:        result.Spec.Name,
		Outcome:     store.OutcomeLoaded,
		DurationMS:  result.Duration.Milliseconds(),
		RequestedAt: result.Started.UTC(),
	}
	if result.Err != nil {
		req.Outcome = store.OutcomeFailed
		req.Error = result.Err.Error()
	}
	p.mu.RLock()
	if p.session != nil {
		req.UserID = p.session.UserID
	}
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 5*time.Second)
	defer cancel()
	if _, err := p.svc.history.InsertLoadRequest(ctx, req); err != nil {
		p.logger.Warn("record load request", "node", req.NodeID, "error", err)
	}
	if hook := p.svc.hooks.OnLoadRequest; hook != nil {
		hook(p.id, result)
	}
	p.notifier.Broadcast()
}

func validateIdentity(identity tree.Identity) error {
	details := map[string]any{}
	if strings.TrimSpace(identity.ID) == "" {
		details["id"] = "required"
	}
	switch identity.Kind {
	case tree.KindHub, tree.KindProject, tree.KindFolder:
	case tree.KindItem:
		if identity.ProjectID == "" {
			details["projectId"] = "required for items"
		}
		if identity.ItemID == "" {
			details["itemId"] = "required for items"
		}
	default:
		details["kind"] = "must be hub, project, folder or item"
	}
	if len(details) > 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid node", details)
	}
	return nil
}

// panelUsers resolves the user with whatever token the panel holds at the
// time of the call, so a token attached after login is picked up.
type panelUsers struct{ p *Panel }

func (u panelUsers) GetUser(ctx context.Context) (gate.Session, error) {
	return u.p.backends().Users.GetUser(ctx)
}

func (u panelUsers) Login(ctx context.Context) (string, error) {
	return u.p.backends().Users.Login(ctx)
}
