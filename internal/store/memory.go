package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hubview/api/internal/util"
)

// MemoryStore keeps load history in process. Used when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	requests []LoadRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertLoadRequest(_ context.Context, req LoadRequest) (LoadRequest, error) {
	if req.ID == "" {
		req.ID = util.NewID("load")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req, nil
}

func (s *MemoryStore) ListLoadRequests(_ context.Context, panelID string, limit int) ([]LoadRequest, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	out := make([]LoadRequest, 0)
	for _, req := range s.requests {
		if req.PanelID == panelID {
			out = append(out, req)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
