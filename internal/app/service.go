package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hubview/api/internal/config"
	"hubview/api/internal/search"
	"hubview/api/internal/session"
	"hubview/api/internal/store"
	"hubview/api/internal/tree"
	"hubview/api/internal/util"
	"hubview/api/internal/viewer"
)

// Hooks are called once per created tree node and once per settled load request.
type Hooks struct {
	OnNodeCreated func(panelID string, node tree.Snapshot)
	OnLoadRequest func(panelID string, result viewer.Result)
}

// LoadHistory records settled load requests.
type LoadHistory interface {
	InsertLoadRequest(ctx context.Context, req store.LoadRequest) (store.LoadRequest, error)
	ListLoadRequests(ctx context.Context, panelID string, limit int) ([]store.LoadRequest, error)
}

// Check is a readiness probe for one backing service.
type Check func(ctx context.Context) error

type Options struct {
	Backends BackendFactory
	Sessions session.Store
	History  LoadHistory
	Search   *search.Service
	Hooks    Hooks
	Checks   map[string]Check
	Logger   *slog.Logger
}

type Service struct {
	cfg      config.Config
	backends BackendFactory
	sessions session.Store
	history  LoadHistory
	search   *search.Service
	hooks    Hooks
	checks   map[string]Check
	logger   *slog.Logger

	mu     sync.RWMutex
	panels map[string]*Panel
}

// New builds the service. Missing stores fall back to in-process ones.
func New(cfg config.Config, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore()
	}
	if opts.History == nil {
		opts.History = store.NewMemoryStore()
	}
	if opts.Search == nil {
		opts.Search = search.NewService(nil, opts.Logger)
	}
	return &Service{
		cfg:      cfg,
		backends: opts.Backends,
		sessions: opts.Sessions,
		history:  opts.History,
		search:   opts.Search,
		hooks:    opts.Hooks,
		checks:   opts.Checks,
		logger:   opts.Logger,
		panels:   map[string]*Panel{},
	}
}

// CreatePanel mounts a new panel inline and starts acquiring its session.
// token may be empty when the user has not logged in yet.
func (s *Service) CreatePanel(ctx context.Context, token string) (*Panel, error) {
	p, err := newPanel(ctx, s, util.NewID("pnl"), token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.panels[p.id] = p
	s.mu.Unlock()
	s.logger.Info("panel created", "panel", p.id)
	return p, nil
}

func (s *Service) Panel(id string) (*Panel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panels[id]
	if !ok {
		return nil, errPanelNotFound
	}
	return p, nil
}

// PanelIDs lists open panels in id order.
func (s *Service) PanelIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.panels))
	for id := range s.panels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) ClosePanel(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.panels[id]
	delete(s.panels, id)
	s.mu.Unlock()
	if !ok {
		return errPanelNotFound
	}
	p.Close(ctx)
	return nil
}

// Shutdown closes every panel.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	panels := s.panels
	s.panels = map[string]*Panel{}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range panels {
		wg.Add(1)
		go func(p *Panel) {
			defer wg.Done()
			p.Close(ctx)
		}(p)
	}
	wg.Wait()
	s.search.Close()
}

// Ready runs every readiness check.
func (s *Service) Ready(ctx context.Context) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ready := true
	checks := map[string]any{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return checks, ready
}
