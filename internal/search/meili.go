package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxNodes = "hubview_nodes"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	healthy   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewMeili creates a Meilisearch client and configures the node index.
// An unreachable server leaves the client unhealthy; the health loop keeps
// probing it.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNodes,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxNodes, "error", err)
	}

	index := m.client.Index(idxNodes)
	filterable := []interface{}{"panelId", "loadable", "kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxNodes, "error", err)
	}
	searchable := []string{"name", "fileType"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxNodes, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{buildRequest(q, limit)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func buildRequest(q Query, limit int64) *meili.SearchRequest {
	filters := []string{fmt.Sprintf("panelId = %q", q.PanelID)}
	if q.LoadableOnly {
		filters = append(filters, "loadable = true")
	}
	return &meili.SearchRequest{
		IndexUID:              idxNodes,
		Query:                 q.Text,
		Limit:                 limit,
		AttributesToHighlight: []string{"name"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		Filter:                filters,
	}
}

func hitToResult(hit meili.Hit) Result {
	name := decodeString(hit, "name")
	return Result{
		NodeID:   decodeString(hit, "nodeId"),
		Name:     name,
		Kind:     decodeString(hit, "kind"),
		FileType: decodeString(hit, "fileType"),
		Loadable: decodeBool(hit, "loadable"),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "name"), name),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexNode(rec NodeRecord) error {
	_, err := m.client.Index(idxNodes).AddDocuments([]NodeRecord{rec}, nil)
	return err
}

func (m *Meili) DeleteNode(id string) error {
	_, err := m.client.Index(idxNodes).DeleteDocument(id, nil)
	return err
}
