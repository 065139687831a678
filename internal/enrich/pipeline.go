// Package enrich turns raw tree nodes into loadable nodes by fetching their
// versions, derivative reference and thumbnail.
package enrich

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"hubview/api/internal/derivative"
	"hubview/api/internal/dm"
	"hubview/api/internal/tree"
)

// DefaultThumbnailSize is the rendition requested for node thumbnails.
const DefaultThumbnailSize = 200

const thumbnailPrefix = "data:image/png;base64,"

// VersionSource is the slice of the document service the pipeline needs.
type VersionSource interface {
	GetItemVersions(ctx context.Context, projectID, itemID string) ([]dm.Version, error)
	VersionContentID(version dm.Version) (dm.ContentID, error)
}

// DerivativeSource is the slice of the derivative service the pipeline needs.
type DerivativeSource interface {
	GetManifest(ctx context.Context, id dm.ContentID) (derivative.Manifest, error)
	GetThumbnail(ctx context.Context, id dm.ContentID, opts derivative.ThumbnailOptions) (string, error)
}

// Observer is told about every node whose enrichment settled while mounted.
type Observer func(tree.Snapshot)

type Options struct {
	ThumbnailSize int
	// MaxInFlight caps concurrent enrichments across all nodes; 0 means unbounded.
	MaxInFlight int
	Observer    Observer
	Logger      *slog.Logger
}

type Pipeline struct {
	versions      VersionSource
	derivatives   DerivativeSource
	thumbnailSize int
	sem           *semaphore.Weighted
	observer      Observer
	logger        *slog.Logger
}

func New(versions VersionSource, derivatives DerivativeSource, opts Options) *Pipeline {
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultThumbnailSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pipeline{
		versions:      versions,
		derivatives:   derivatives,
		thumbnailSize: opts.ThumbnailSize,
		observer:      opts.Observer,
		logger:        opts.Logger,
	}
	if opts.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	return p
}

// Enrich populates node's bundle in place. It never fails: every remote error
// leaves the affected field absent, and the loading indicator is always
// cleared. Runs on the same node are serialized; each run starts from an
// empty bundle so repeated runs against unchanged remote state converge.
func (p *Pipeline) Enrich(ctx context.Context, node *tree.Node) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			node.Update(func(b *tree.Bundle) { b.Loading = false })
			return
		}
		defer p.sem.Release(1)
	}

	unlock := node.LockEnrichment()
	defer unlock()

	id := node.Identity()
	log := p.logger.With("node", id.ID)

	if !node.Update(func(b *tree.Bundle) { *b = tree.Bundle{Loading: true} }) {
		return
	}
	defer func() {
		if node.Update(func(b *tree.Bundle) {
			b.Loading = false
			b.Enriched = true
		}) && p.observer != nil {
			p.observer(node.Snapshot())
		}
	}()

	versions, err := p.versions.GetItemVersions(ctx, id.ProjectID, id.ItemID)
	if err != nil {
		log.Warn("enrich: list versions failed", "project", id.ProjectID, "item", id.ItemID, "error", err)
		return
	}
	if len(versions) == 0 {
		node.Update(func(b *tree.Bundle) { b.Versions = []dm.Version{} })
		return
	}

	active := versions[0]
	if !node.Update(func(b *tree.Bundle) {
		b.Versions = versions
		b.ActiveVersion = &active
	}) {
		return
	}

	contentID, err := p.versions.VersionContentID(active)
	if err != nil {
		log.Warn("enrich: resolve content id failed", "version", active.ID, "error", err)
		return
	}

	if ctx.Err() != nil {
		return
	}
	manifest, err := p.derivatives.GetManifest(ctx, contentID)
	if err != nil {
		log.Info("enrich: manifest unavailable", "urn", contentID, "error", err)
	} else if derivative.HasDerivative(manifest, derivative.Geometry) {
		if !node.Update(func(b *tree.Bundle) { b.ViewerRef = contentID }) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	thumbnail, err := p.derivatives.GetThumbnail(ctx, contentID, derivative.ThumbnailOptions{
		Size:   p.thumbnailSize,
		Base64: true,
	})
	if err != nil {
		log.Info("enrich: thumbnail unavailable", "urn", contentID, "error", err)
		return
	}
	if thumbnail != "" {
		node.Update(func(b *tree.Bundle) { b.Thumbnail = thumbnailPrefix + thumbnail })
	}
}

// EnrichAll enriches sibling nodes concurrently and returns once all settle.
func (p *Pipeline) EnrichAll(ctx context.Context, nodes []*tree.Node) {
	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			p.Enrich(ctx, node)
			return nil
		})
	}
	_ = g.Wait()
}
