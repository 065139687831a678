package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is a substring index kept in process. It backs search when
// Meilisearch is absent or unhealthy.
type Memory struct {
	mu      sync.RWMutex
	records map[string]NodeRecord
}

func NewMemory() *Memory {
	return &Memory{records: map[string]NodeRecord{}}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) IndexNode(rec NodeRecord) error {
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteNode(id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	m.mu.RLock()
	var hits []NodeRecord
	for _, rec := range m.records {
		if rec.PanelID != q.PanelID || (q.LoadableOnly && !rec.Loadable) {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Name), needle) || strings.EqualFold(rec.FileType, needle) {
			hits = append(hits, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		return hits[i].NodeID < hits[j].NodeID
	})
	total := len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Result, 0, len(hits))
	for _, rec := range hits {
		results = append(results, Result{NodeID: rec.NodeID, Name: rec.Name, Kind: rec.Kind, FileType: rec.FileType, Loadable: rec.Loadable})
	}
	return results, total, nil
}
