// Package gate blocks data loading until a user session exists.
//
// A gate moves from unauthenticated to either authenticated or abandoned and
// never leaves those terminal states. While unauthenticated it may sit in
// login_required (prompt shown) or awaiting_login (user confirmed, external
// login flow in progress).
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateLoginRequired   State = "login_required"
	StateAwaitingLogin   State = "awaiting_login"
	StateAuthenticated   State = "authenticated"
	StateAbandoned       State = "abandoned"
)

var (
	// ErrSessionRequired is returned once the user declined to log in.
	ErrSessionRequired = errors.New("session required: login declined")
	ErrNoPrompt        = errors.New("no login prompt pending")
	ErrClosed          = errors.New("session gate closed")
)

// Session is an authenticated user.
type Session struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Email    string `json:"email,omitempty"`
}

// UserSource is the session boundary: GetUser succeeds once the user is
// logged in, Login starts the external login flow and returns the URL the
// user has to visit.
type UserSource interface {
	GetUser(ctx context.Context) (Session, error)
	Login(ctx context.Context) (string, error)
}

// Status is a snapshot of the gate for rendering.
type Status struct {
	State    State    `json:"state"`
	Session  *Session `json:"session,omitempty"`
	LoginURL string   `json:"loginUrl,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

type Options struct {
	// Preauthenticated short-circuits the gate: no network call is made.
	Preauthenticated *Session
	// PollInterval is how often GetUser is retried after the user confirmed login.
	PollInterval time.Duration
	// DeclineRedirect is where the user is sent after declining.
	DeclineRedirect string
	OnChange        func(Status)
	Logger          *slog.Logger
}

type Gate struct {
	users    UserSource
	poll     time.Duration
	redirect string
	onChange func(Status)
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	session  *Session
	loginURL string
	started  bool

	answers chan bool
	recheck chan struct{}
	done    chan struct{}
	closed  chan struct{}
	cancel  context.CancelFunc
	ctx     context.Context
	once    sync.Once
}

func New(users UserSource, opts Options) *Gate {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		users:    users,
		poll:     opts.PollInterval,
		redirect: opts.DeclineRedirect,
		onChange: opts.OnChange,
		logger:   opts.Logger,
		state:    StateUnauthenticated,
		answers:  make(chan bool, 1),
		recheck:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.Preauthenticated != nil {
		s := *opts.Preauthenticated
		g.session = &s
		g.state = StateAuthenticated
		g.started = true
		close(g.done)
	}
	return g
}

// EnsureSession returns the session, acquiring it first if needed. It blocks
// while the user is being asked to log in; it returns ErrSessionRequired
// after a decline and ErrClosed after Close.
func (g *Gate) EnsureSession(ctx context.Context) (Session, error) {
	g.mu.Lock()
	if !g.started {
		g.started = true
		go g.acquire(g.ctx)
	}
	g.mu.Unlock()

	select {
	case <-g.done:
	case <-g.closed:
		return Session{}, ErrClosed
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateAuthenticated && g.session != nil {
		return *g.session, nil
	}
	return Session{}, ErrSessionRequired
}

func (g *Gate) acquire(ctx context.Context) {
	session, err := g.users.GetUser(ctx)
	if err == nil {
		g.authenticate(session)
		return
	}
	g.logger.Info("gate: no session, login required", "error", err)
	g.transition(func() { g.state = StateLoginRequired })

	select {
	case confirmed := <-g.answers:
		if !confirmed {
			return
		}
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-g.recheck:
		}
		session, err := g.users.GetUser(ctx)
		if err != nil {
			g.logger.Debug("gate: still waiting for login", "error", err)
			continue
		}
		g.authenticate(session)
		return
	}
}

// Confirm answers the login prompt with OK: the external login flow starts
// and EnsureSession keeps waiting until GetUser succeeds.
func (g *Gate) Confirm(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.state != StateLoginRequired {
		g.mu.Unlock()
		return "", ErrNoPrompt
	}
	g.state = StateAwaitingLogin
	g.mu.Unlock()

	loginURL, err := g.users.Login(ctx)
	if err != nil {
		g.transition(func() { g.state = StateLoginRequired })
		return "", err
	}
	g.transition(func() { g.loginURL = loginURL })

	select {
	case g.answers <- true:
	default:
	}
	return loginURL, nil
}

// Decline answers the login prompt with cancel. The gate is abandoned for
// good and every EnsureSession caller receives ErrSessionRequired.
func (g *Gate) Decline() (string, error) {
	g.mu.Lock()
	if g.state != StateLoginRequired {
		g.mu.Unlock()
		return "", ErrNoPrompt
	}
	g.state = StateAbandoned
	status := g.statusLocked()
	g.mu.Unlock()

	close(g.done)
	select {
	case g.answers <- false:
	default:
	}
	g.notify(status)
	return g.redirect, nil
}

// Recheck asks a gate that is awaiting login to query the user now instead
// of waiting for the next poll.
func (g *Gate) Recheck() {
	select {
	case g.recheck <- struct{}{}:
	default:
	}
}

// Close stops any pending acquisition and releases waiters.
func (g *Gate) Close() {
	g.once.Do(func() {
		g.cancel()
		close(g.closed)
	})
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Gate) authenticate(session Session) {
	g.mu.Lock()
	if g.state == StateAbandoned || g.state == StateAuthenticated {
		g.mu.Unlock()
		return
	}
	g.session = &session
	g.state = StateAuthenticated
	g.loginURL = ""
	status := g.statusLocked()
	g.mu.Unlock()

	close(g.done)
	g.logger.Info("gate: session established", "user", session.UserID)
	g.notify(status)
}

func (g *Gate) transition(fn func()) {
	g.mu.Lock()
	fn()
	status := g.statusLocked()
	g.mu.Unlock()
	g.notify(status)
}

func (g *Gate) statusLocked() Status {
	status := Status{State: g.state, LoginURL: g.loginURL}
	if g.session != nil {
		s := *g.session
		status.Session = &s
	}
	if g.state == StateAbandoned {
		status.Redirect = g.redirect
	}
	return status
}

func (g *Gate) notify(status Status) {
	if g.onChange != nil {
		g.onChange(status)
	}
}
