package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"hubview/api/internal/tree"
)

const (
	cookieName     = "hubview"
	cookiePanelKey = "panel_id"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	cookies    *sessions.CookieStore
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin, sessionSecret string) *HTTPServer {
	cookies := sessions.NewCookieStore([]byte(sessionSecret))
	cookies.MaxAge(86400)
	cookies.Options.Path = "/"
	cookies.Options.HttpOnly = true
	cookies.Options.SameSite = http.SameSiteLaxMode

	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		cookies:    cookies,
		logger:     service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		s.logRequests,
		middleware.Recoverer,
		s.cors,
	)

	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)

	r.Route("/api/panels", func(r chi.Router) {
		r.Post("/", s.handleCreatePanel)
		r.Get("/current", s.handleCurrentPanel)

		r.Route("/{panelID}", func(r chi.Router) {
			r.Use(s.withPanel)
			r.Get("/", s.handlePanelStatus)
			r.Delete("/", s.handleClosePanel)
			r.Get("/events", s.handleEvents)

			r.Post("/docking", s.handleDocking)
			r.Post("/login", s.handleLogin)
			r.Post("/session", s.handleAttachToken)

			r.Get("/hubs", s.handleHubs)
			r.Post("/hubs/retry", s.handleRetryHubs)
			r.Post("/tabs/{hubID}", s.handleSelectTab)
			r.Get("/hubs/{hubID}/projects", s.handleProjects)
			r.Get("/hubs/{hubID}/projects/{projectID}/folders", s.handleTopFolders)
			r.Get("/projects/{projectID}/folders/{folderID}/contents", s.handleFolderContents)

			r.Get("/nodes", s.handleListNodes)
			r.Post("/nodes", s.handleCreateNode)
			r.Get("/nodes/{nodeID}", s.handleNode)
			r.Delete("/nodes/{nodeID}", s.handleRemoveNode)
			r.Post("/nodes/{nodeID}/enrich", s.handleReenrich)
			r.Post("/nodes/{nodeID}/load", s.handleLoad)

			r.Get("/loads", s.handleLoads)
			r.Get("/search", s.handleSearch)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
// and closes every panel.
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg.Go(func() error {
		s.logger.Info("hubview API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.service.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	checks, ready := s.service.Ready(r.Context())
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *HTTPServer) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.CreatePanel(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cookie, _ := s.cookies.Get(r, cookieName)
	cookie.Values[cookiePanelKey] = p.ID()
	if err := cookie.Save(r, w); err != nil {
		s.logger.Warn("save panel cookie", "error", err)
	}
	writeJSON(w, http.StatusCreated, p.Status())
}

func (s *HTTPServer) handleCurrentPanel(w http.ResponseWriter, r *http.Request) {
	id := s.cookiePanelID(r)
	if id == "" {
		writeError(w, http.StatusNotFound, "PANEL_NOT_FOUND", "No panel bound to this browser", nil)
		return
	}
	p, err := s.service.Panel(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *HTTPServer) handlePanelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, panelFrom(r).Status())
}

func (s *HTTPServer) handleClosePanel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClosePanel(r.Context(), panelFrom(r).ID()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDocking(w http.ResponseWriter, r *http.Request) {
	p := panelFrom(r)
	var body struct {
		Docked *bool `json:"docked"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	var err error
	if body.Docked == nil {
		err = p.ToggleDocking(r.Context())
	} else {
		err = p.SetDocking(r.Context(), *body.Docked)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := panelFrom(r)
	var body struct {
		Confirm *bool `json:"confirm"`
	}
	if err := decodeBody(r, &body); err != nil || body.Confirm == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "confirm must be true or false", nil)
		return
	}
	if *body.Confirm {
		loginURL, err := p.Confirm(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loginUrl": loginURL})
		return
	}
	redirect, err := p.Decline()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redirect": redirect})
}

func (s *HTTPServer) handleAttachToken(w http.ResponseWriter, r *http.Request) {
	if err := panelFrom(r).AttachToken(bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := panelFrom(r).Hubs()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hubs": hubs})
}

func (s *HTTPServer) handleRetryHubs(w http.ResponseWriter, r *http.Request) {
	if err := panelFrom(r).RetryHubs(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	p := panelFrom(r)
	if err := p.SelectTab(param(r, "hubID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := panelFrom(r).Projects(r.Context(), param(r, "hubID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleTopFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := panelFrom(r).TopFolders(r.Context(), param(r, "hubID"), param(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": folders})
}

func (s *HTTPServer) handleFolderContents(w http.ResponseWriter, r *http.Request) {
	entries, err := panelFrom(r).FolderContents(r.Context(), param(r, "projectID"), param(r, "folderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": panelFrom(r).Nodes()})
}

func (s *HTTPServer) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var identity tree.Identity
	if err := decodeBody(r, &identity); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	snap, err := panelFrom(r).CreateNode(identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *HTTPServer) handleNode(w http.ResponseWriter, r *http.Request) {
	snap, err := panelFrom(r).Node(param(r, "nodeID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if err := panelFrom(r).RemoveNode(param(r, "nodeID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleReenrich(w http.ResponseWriter, r *http.Request) {
	if err := panelFrom(r).Reenrich(param(r, "nodeID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	p := panelFrom(r)
	nodeID := param(r, "nodeID")
	if err := p.Load(r.Context(), nodeID); err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := p.Node(nodeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleLoads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	loads, err := panelFrom(r).Loads(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loads": loads})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	loadable, _ := strconv.ParseBool(query.Get("loadable"))
	writeJSON(w, http.StatusOK, panelFrom(r).Search(query.Get("q"), loadable))
}

type panelKey struct{}

// withPanel resolves {panelID} and checks that the caller holds the panel's
// token or its cookie.
func (s *HTTPServer) withPanel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.service.Panel(param(r, "panelID"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !p.Authorized(bearerToken(r), s.cookiePanelID(r)) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), panelKey{}, p)))
	})
}

func panelFrom(r *http.Request) *Panel {
	return r.Context().Value(panelKey{}).(*Panel)
}

func (s *HTTPServer) cookiePanelID(r *http.Request) string {
	cookie, err := s.cookies.Get(r, cookieName)
	if err != nil {
		return ""
	}
	id, _ := cookie.Values[cookiePanelKey].(string)
	return id
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// param returns a decoded path parameter; node ids are URNs and arrive escaped.
func param(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
