// Package dispatcher translates shell-originated commands into session
// lifecycle operations. It owns the single current session.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/config"
	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/router"
	"github.com/vimcodex/vimcodex/internal/engine/session"
	"github.com/vimcodex/vimcodex/internal/engine/transport"
	"github.com/vimcodex/vimcodex/internal/events"
	"github.com/vimcodex/vimcodex/internal/events/bus"
	"github.com/vimcodex/vimcodex/internal/history"
)

// ErrNoSession is returned for operations that need a current session
var ErrNoSession = errors.New("no current session")

const eventSource = "codex-bridge"

// TransportFactory builds the subprocess transport for a new session
type TransportFactory func() session.Transport

// StartOptions carries per-start overrides
type StartOptions struct {
	Cwd   string `json:"cwd"`
	Model string `json:"model"`
}

// Status is the dispatcher-level view returned to the shell
type Status struct {
	Visible bool              `json:"visible"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// Dispatcher owns the current session and fans its transcript out to
// subscribers, the history store and the event bus.
type Dispatcher struct {
	cfg      config.AgentConfig
	logger   *logger.Logger
	store    history.Store
	eventBus bus.EventBus
	factory  TransportFactory

	// startMu serializes StartSession: stop of the previous session,
	// creation of the next one and the current pointer swap happen as
	// one unit, so concurrent starts cannot leak a running session
	startMu sync.Mutex

	mu        sync.Mutex
	current   *session.Session
	visible   bool
	listeners []router.Listener
}

// New creates a dispatcher. A nil factory spawns the configured agent
// binary over stdio.
func New(cfg config.AgentConfig, store history.Store, eventBus bus.EventBus, factory TransportFactory, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "dispatcher")),
		store:    store,
		eventBus: eventBus,
		factory:  factory,
		visible:  true,
	}
	if d.factory == nil {
		d.factory = func() session.Transport {
			return transport.New(transport.Config{
				Command:      cfg.Command,
				Args:         cfg.Args,
				StopGrace:    cfg.StopGrace(),
				QueueSize:    cfg.InboundQueueSize,
				MaxLineBytes: cfg.MaxLineBytes,
			}, log)
		}
	}
	return d
}

// Subscribe registers a transcript listener applied to the current and all
// future sessions
func (d *Dispatcher) Subscribe(fn router.Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// StartSession stops any existing session, then spawns a fresh one.
// Concurrent calls are serialized; each caller sees the previous session
// fully stopped before its own replaces it.
func (d *Dispatcher) StartSession(ctx context.Context, opts StartOptions) (session.Snapshot, error) {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	d.mu.Lock()
	prev := d.current
	d.mu.Unlock()

	if prev != nil {
		if err := prev.Stop(ctx); err != nil {
			d.logger.Warn("stopping previous session failed", zap.Error(err))
		}
	}

	r := router.New(d.logger)
	s := session.New(d.factory(), r, d.logger, session.Config{
		Cwd:       opts.Cwd,
		Model:     opts.Model,
		Configure: true,
	})

	sessionID := s.ID
	r.AddListener(func(msg router.Message) {
		if err := d.store.Append(context.Background(), sessionID, msg); err != nil {
			d.logger.Warn("history append failed", zap.Error(err))
		}
		for _, fn := range d.snapshotListeners() {
			fn(msg)
		}
	})
	s.OnStateChange(func(from, to session.State) {
		d.publishTransition(sessionID, from, to)
	})

	d.mu.Lock()
	d.current = s
	d.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return s.Snapshot(), err
	}

	d.logger.Info("session started", zap.String("session_id", sessionID))
	return s.Snapshot(), nil
}

// StopSession terminates the current session
func (d *Dispatcher) StopSession(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// SendUserInput forwards user text to the agent
func (d *Dispatcher) SendUserInput(text string) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Send(text)
}

// ApprovePending approves the outstanding approval request
func (d *Dispatcher) ApprovePending() error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Approve()
}

// DenyPending denies the outstanding approval request
func (d *Dispatcher) DenyPending() error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Deny()
}

// Interrupt asks the agent to abandon the current turn
func (d *Dispatcher) Interrupt() error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Interrupt()
}

// ToggleVisibility flips the conversation panel flag and returns the new
// value
func (d *Dispatcher) ToggleVisibility() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible = !d.visible
	return d.visible
}

// Status reports the dispatcher and current session state
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	s := d.current
	visible := d.visible
	d.mu.Unlock()

	status := Status{Visible: visible}
	if s != nil {
		snap := s.Snapshot()
		status.Session = &snap
	}
	return status
}

// Messages returns the persisted transcript of the current session
func (d *Dispatcher) Messages(ctx context.Context, limit int) ([]router.Message, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	return d.store.Messages(ctx, s.ID, limit, time.Time{})
}

// Shutdown stops the current session if one is running
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}

func (d *Dispatcher) session() (*session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil, ErrNoSession
	}
	return d.current, nil
}

func (d *Dispatcher) snapshotListeners() []router.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]router.Listener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

// publishTransition maps state changes to bus subjects. Data stays flat so
// external consumers need no engine types.
func (d *Dispatcher) publishTransition(sessionID string, from, to session.State) {
	var subject string
	switch {
	case to == session.StateActive && from == session.StateStarting:
		subject = events.SessionStarted
	case to == session.StateStopped:
		subject = events.SessionStopped
	case to == session.StateCrashed:
		subject = events.SessionCrashed
	case to == session.StateAwaitingApproval:
		subject = events.SessionApprovalRequested
	case from == session.StateAwaitingApproval && to == session.StateActive:
		subject = events.SessionApprovalResolved
	default:
		return
	}

	event := bus.NewEvent(subject, eventSource, map[string]interface{}{
		"session_id": sessionID,
		"from":       string(from),
		"to":         string(to),
	})
	if err := d.eventBus.Publish(context.Background(), subject, event); err != nil {
		d.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
