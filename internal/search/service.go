package search

import (
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-process index. Every node is written to both.
type Service struct {
	meili    *Meili
	fallback *Memory
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: NewMemory(), logger: logger}
}

// Search tries Meilisearch if healthy, otherwise the in-process index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to memory index", "error", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("memory search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNode indexes a node (fire-and-forget to Meilisearch).
func (s *Service) IndexNode(rec NodeRecord) {
	_ = s.fallback.IndexNode(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNode(rec); err != nil {
			s.logger.Warn("index node", "id", rec.ID, "error", err)
		}
	}()
}

// DeleteNodes removes nodes from both indexes (fire-and-forget to Meilisearch).
func (s *Service) DeleteNodes(ids ...string) {
	for _, id := range ids {
		_ = s.fallback.DeleteNode(id)
	}
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteNode(id); err != nil {
				s.logger.Warn("delete node from index", "id", id, "error", err)
			}
		}
	}()
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
