package panel

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"hubview/api/internal/remote"
)

// HTTPHost asks the viewer host service to mount and unmount the panel's
// render targets.
type HTTPHost struct {
	http    *remote.Client
	panelID string
}

func NewHTTPHost(transport *remote.Client, panelID string) *HTTPHost {
	return &HTTPHost{http: transport, panelID: panelID}
}

func (h *HTTPHost) Attach(ctx context.Context, target DockState, size Size) error {
	body := map[string]any{"target": target}
	if size != (Size{}) {
		body["width"] = size.Width
		body["height"] = size.Height
	}
	return h.http.PostJSON(ctx, h.path("attach"), body, nil)
}

func (h *HTTPHost) Detach(ctx context.Context, target DockState) error {
	return h.http.PostJSON(ctx, h.path("detach"), map[string]any{"target": target}, nil)
}

func (h *HTTPHost) path(action string) string {
	return fmt.Sprintf("/panels/%s/%s", url.PathEscape(h.panelID), action)
}

// MemoryHost keeps the mounted target in memory. It is used when no viewer
// host service is configured; the browser reads the dock state from the
// panel status instead.
type MemoryHost struct {
	mu       sync.Mutex
	attached map[DockState]Size
}

func NewMemoryHost() *MemoryHost {
	return &MemoryHost{attached: map[DockState]Size{}}
}

func (h *MemoryHost) Attach(_ context.Context, target DockState, size Size) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.attached[target]; ok {
		return fmt.Errorf("%s target already attached", target)
	}
	h.attached[target] = size
	return nil
}

func (h *MemoryHost) Detach(_ context.Context, target DockState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.attached[target]; !ok {
		return fmt.Errorf("%s target not attached", target)
	}
	delete(h.attached, target)
	return nil
}

// Attached lists the mounted targets.
func (h *MemoryHost) Attached() []DockState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DockState, 0, len(h.attached))
	for target := range h.attached {
		out = append(out, target)
	}
	return out
}
