// Package search indexes enriched nodes so a panel can find documents the
// user has already browsed.
package search

import "strings"

// NodeRecord is the data indexed for one enriched node.
type NodeRecord struct {
	ID       string `json:"id"`
	PanelID  string `json:"panelId"`
	NodeID   string `json:"nodeId"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	FileType string `json:"fileType"`
	Loadable bool   `json:"loadable"`
}

// RecordID builds the index key for a node of a panel. Meilisearch ids only
// allow alphanumerics, '-' and '_'.
func RecordID(panelID, nodeID string) string {
	var b strings.Builder
	for _, r := range panelID + "_" + nodeID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Result is a single search hit returned to the caller.
type Result struct {
	NodeID   string `json:"nodeId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	FileType string `json:"fileType,omitempty"`
	Loadable bool   `json:"loadable"`
	Snippet  string `json:"snippet,omitempty"`
}

// Query describes a search request scoped to one panel.
type Query struct {
	Text         string
	PanelID      string
	LoadableOnly bool
	Limit        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push nodes into a search index.
type Indexer interface {
	IndexNode(rec NodeRecord) error
	DeleteNode(id string) error
}

const defaultLimit = 20
