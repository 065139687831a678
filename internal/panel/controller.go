// Package panel switches a browser component between its inline render
// target and a docked panel, keeping at most one of them mounted.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type DockState string

const (
	Inline DockState = "inline"
	Docked DockState = "docked"
)

// Size is the requested size of a render target. Zero means "host decides".
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultDockedSize matches the floating panel the viewer opens.
var DefaultDockedSize = Size{Width: 350, Height: 250}

// Host mounts and unmounts render targets. Both calls must return only once
// the host has finished, which is what lets the controller order them.
type Host interface {
	Attach(ctx context.Context, target DockState, size Size) error
	Detach(ctx context.Context, target DockState) error
}

// Policy decides what happens to a SetDocking call made while another
// transition is still running.
type Policy int

const (
	// Queue makes the call wait for the running transition.
	Queue Policy = iota
	// Reject fails the call with ErrTransitionInFlight.
	Reject
)

var (
	ErrTransitionInFlight = errors.New("docking transition already in progress")
	ErrNotMounted         = errors.New("panel is not mounted")
)

type Options struct {
	Policy     Policy
	DockedSize Size
	OnChange   func(DockState)
	Logger     *slog.Logger
}

type Controller struct {
	host    Host
	policy  Policy
	size    Size
	change  func(DockState)
	logger  *slog.Logger
	transit chan struct{}

	mu       sync.Mutex
	state    DockState
	attached bool
}

func New(host Host, opts Options) *Controller {
	if opts.DockedSize == (Size{}) {
		opts.DockedSize = DefaultDockedSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		host:    host,
		policy:  opts.Policy,
		size:    opts.DockedSize,
		change:  opts.OnChange,
		logger:  opts.Logger,
		transit: make(chan struct{}, 1),
		state:   Inline,
	}
}

// State returns the current dock state and whether its target is mounted.
func (c *Controller) State() (DockState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attached
}

// Mount attaches the target for the current state. Mounting an already
// mounted controller does nothing.
func (c *Controller) Mount(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	defer c.end()

	state, attached := c.State()
	if attached {
		return nil
	}
	if err := c.host.Attach(ctx, state, c.sizeOf(state)); err != nil {
		return fmt.Errorf("attach %s target: %w", state, err)
	}
	c.setAttached(state, true)
	return nil
}

// Unmount detaches whatever target is mounted. It waits for a running
// transition whatever the policy, so teardown never leaves a target behind.
func (c *Controller) Unmount(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	defer c.end()

	state, attached := c.State()
	if !attached {
		return nil
	}
	if err := c.host.Detach(ctx, state); err != nil {
		return fmt.Errorf("detach %s target: %w", state, err)
	}
	c.setAttached(state, false)
	return nil
}

// SetDocking moves the component to the docked panel or back inline.
// The current target is detached before the next one is attached; if the
// attach fails the previous target is attached again.
func (c *Controller) SetDocking(ctx context.Context, docked bool) error {
	next := Inline
	if docked {
		next = Docked
	}

	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.end()

	prev, attached := c.State()
	if !attached {
		return ErrNotMounted
	}
	if prev == next {
		return nil
	}

	if err := c.host.Detach(ctx, prev); err != nil {
		return fmt.Errorf("detach %s target: %w", prev, err)
	}
	c.setAttached(prev, false)

	if err := c.host.Attach(ctx, next, c.sizeOf(next)); err != nil {
		c.logger.Warn("attach failed, restoring previous target", "from", prev, "to", next, "error", err)
		// ctx may be what failed the attach
		if rerr := c.host.Attach(context.WithoutCancel(ctx), prev, c.sizeOf(prev)); rerr != nil {
			c.logger.Error("restore previous target", "target", prev, "error", rerr)
			return errors.Join(fmt.Errorf("attach %s target: %w", next, err), fmt.Errorf("restore %s target: %w", prev, rerr))
		}
		c.setAttached(prev, true)
		return fmt.Errorf("attach %s target: %w", next, err)
	}
	c.setAttached(next, true)
	c.logger.Info("docking changed", "from", prev, "to", next)
	return nil
}

// Toggle flips between docked and inline.
func (c *Controller) Toggle(ctx context.Context) error {
	state, _ := c.State()
	return c.SetDocking(ctx, state != Docked)
}

// begin starts a docking transition under the configured policy.
func (c *Controller) begin(ctx context.Context) error {
	if c.policy == Reject {
		select {
		case c.transit <- struct{}{}:
			return nil
		default:
			return ErrTransitionInFlight
		}
	}
	return c.wait(ctx)
}

// wait blocks until no transition is running, or ctx is done.
func (c *Controller) wait(ctx context.Context) error {
	select {
	case c.transit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) end() { <-c.transit }

func (c *Controller) setAttached(state DockState, attached bool) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.attached = attached
	c.mu.Unlock()
	if changed && c.change != nil {
		c.change(state)
	}
}

func (c *Controller) sizeOf(state DockState) Size {
	if state == Docked {
		return c.size
	}
	return Size{}
}
