// Package tree holds the tree nodes created by the browser widget and their
// per-node enrichment bundles.
package tree

import (
	"sync"

	"hubview/api/internal/dm"
)

// Kind distinguishes the levels of the hub hierarchy.
type Kind string

const (
	KindHub     Kind = "hub"
	KindProject Kind = "project"
	KindFolder  Kind = "folder"
	KindItem    Kind = "item"
)

// Identity is the immutable part of a node. ParentID is a lookup key only.
type Identity struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentId,omitempty"`
	Kind      Kind   `json:"kind"`
	Name      string `json:"name"`
	HubID     string `json:"hubId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
}

// Bundle is the mutable enrichment state of a node. Zero values mean absent.
type Bundle struct {
	Versions      []dm.Version `json:"versions,omitempty"`
	ActiveVersion *dm.Version  `json:"activeVersion,omitempty"`
	ViewerRef     dm.ContentID `json:"viewerRef,omitempty"`
	Thumbnail     string       `json:"thumbnail,omitempty"`
	Loading       bool         `json:"loading"`
	Enriched      bool         `json:"enriched"`
}

// Snapshot is a point-in-time copy of a node safe to hand to other goroutines.
type Snapshot struct {
	Identity
	Bundle
	Mounted bool `json:"mounted"`
}

// Loadable reports whether the node can be sent to the viewer on its own.
func (s Snapshot) Loadable() bool {
	return s.ActiveVersion != nil && s.ViewerRef != ""
}

// Node pairs an identity with its bundle. All bundle writes go through Update.
type Node struct {
	identity Identity

	mu      sync.Mutex
	bundle  Bundle
	mounted bool
	// loads counts viewer requests still pending; enrichment never resets it.
	loads int

	// enrichMu serializes enrichment runs on this node.
	enrichMu sync.Mutex
}

// NewNode returns a mounted node showing its loading indicator.
func NewNode(identity Identity) *Node {
	return &Node{
		identity: identity,
		bundle:   Bundle{Loading: true},
		mounted:  true,
	}
}

func (n *Node) Identity() Identity { return n.identity }

func (n *Node) ID() string { return n.identity.ID }

// Update applies fn to the bundle. It returns false and leaves the bundle
// untouched when the node has been unmounted.
func (n *Node) Update(fn func(*Bundle)) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mounted {
		return false
	}
	fn(&n.bundle)
	return true
}

// Snapshot copies the node's current state.
func (n *Node) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	b := n.bundle
	if b.Versions != nil {
		b.Versions = append([]dm.Version(nil), b.Versions...)
	}
	if b.ActiveVersion != nil {
		v := *b.ActiveVersion
		b.ActiveVersion = &v
	}
	b.Loading = b.Loading || n.loads > 0
	return Snapshot{Identity: n.identity, Bundle: b, Mounted: n.mounted}
}

// BeginLoad marks a viewer request as pending. It returns false when the
// node has been unmounted.
func (n *Node) BeginLoad() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mounted {
		return false
	}
	n.loads++
	return true
}

// EndLoad settles a request started with BeginLoad.
func (n *Node) EndLoad() {
	n.mu.Lock()
	if n.loads > 0 {
		n.loads--
	}
	n.mu.Unlock()
}

// Mounted reports whether the widget still owns the node.
func (n *Node) Mounted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mounted
}

// Unmount detaches the node; results arriving afterwards are dropped.
func (n *Node) Unmount() {
	n.mu.Lock()
	n.mounted = false
	n.mu.Unlock()
}

// LockEnrichment blocks until no other enrichment runs on the node and
// returns the matching unlock.
func (n *Node) LockEnrichment() func() {
	n.enrichMu.Lock()
	return n.enrichMu.Unlock
}
