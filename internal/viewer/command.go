// Package viewer sends enriched nodes to the host viewer for loading.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hubview/api/internal/tree"
)

const (
	DefaultEnv      = "AutodeskProduction"
	DefaultDatabase = "configurator"
	DefaultProxy    = "lmv-proxy-3legged"
)

var ErrNodeUnmounted = errors.New("node is no longer mounted")

// PreconditionError means Load was called on a node that enrichment has not
// made loadable. It is a caller bug, not a runtime condition.
type PreconditionError struct {
	NodeID  string
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("node %s cannot be loaded: missing %s", e.NodeID, strings.Join(e.Missing, ", "))
}

// ModelRef points the viewer at a derived model.
type ModelRef struct {
	Proxy string `json:"proxy"`
	URN   string `json:"urn"`
}

// ModelSpec is the load request understood by the viewer host.
type ModelSpec struct {
	FileType string   `json:"fileType"`
	Name     string   `json:"name"`
	OwnerID  string   `json:"ownerId"`
	Env      string   `json:"env"`
	Database string   `json:"database"`
	Model    ModelRef `json:"model"`
}

// Loader is the viewer host. LoadModel returns once the load has settled.
type Loader interface {
	LoadModel(ctx context.Context, spec ModelSpec) error
}

// Result describes one settled load request.
type Result struct {
	Node     tree.Identity
	Spec     ModelSpec
	Started  time.Time
	Duration time.Duration
	Err      error
}

type Options struct {
	OwnerID  string
	Env      string
	Database string
	Proxy    string
	// OnSettled runs once per load request after the host call returns.
	OnSettled func(Result)
	Logger    *slog.Logger
}

type Command struct {
	loader Loader
	opts   Options
}

func NewCommand(loader Loader, opts Options) *Command {
	if opts.Env == "" {
		opts.Env = DefaultEnv
	}
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Proxy == "" {
		opts.Proxy = DefaultProxy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Command{loader: loader, opts: opts}
}

// Spec builds the load request for a loadable node snapshot.
func (c *Command) Spec(snap tree.Snapshot) (ModelSpec, error) {
	var missing []string
	if snap.ActiveVersion == nil {
		missing = append(missing, "activeVersion")
	}
	if snap.ViewerRef == "" {
		missing = append(missing, "viewerRef")
	}
	if len(missing) > 0 {
		return ModelSpec{}, &PreconditionError{NodeID: snap.ID, Missing: missing}
	}
	return ModelSpec{
		FileType: snap.ActiveVersion.Attributes.FileType,
		Name:     DisplayName(snap.Name),
		OwnerID:  c.opts.OwnerID,
		Env:      c.opts.Env,
		Database: c.opts.Database,
		Model:    ModelRef{Proxy: c.opts.Proxy, URN: string(snap.ViewerRef)},
	}, nil
}

// Load issues exactly one load request for node. The node shows its loading
// indicator until the host call settles, whatever the outcome.
func (c *Command) Load(ctx context.Context, node *tree.Node) error {
	spec, err := c.Spec(node.Snapshot())
	if err != nil {
		return err
	}
	if !node.BeginLoad() {
		return ErrNodeUnmounted
	}
	defer node.EndLoad()

	started := time.Now()
	err = c.loader.LoadModel(ctx, spec)
	result := Result{Node: node.Identity(), Spec: spec, Started: started, Duration: time.Since(started), Err: err}
	if c.opts.OnSettled != nil {
		c.opts.OnSettled(result)
	}
	if err != nil {
		c.opts.Logger.Warn("model load failed", "node", node.ID(), "urn", spec.Model.URN, "error", err)
		return fmt.Errorf("load %s: %w", node.ID(), err)
	}
	c.opts.Logger.Info("model loaded", "node", node.ID(), "urn", spec.Model.URN, "duration", result.Duration)
	return nil
}

// DisplayName drops everything from the first "." on.
func DisplayName(name string) string {
	base, _, _ := strings.Cut(name, ".")
	return base
}
