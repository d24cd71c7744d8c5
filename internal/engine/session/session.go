// Package session implements the conversation lifecycle around one agent
// process: start, send, receive, approvals, interrupt, stop and crash
// handling.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/approval"
	"github.com/vimcodex/vimcodex/internal/engine/router"
	"github.com/vimcodex/vimcodex/internal/engine/transport"
	"github.com/vimcodex/vimcodex/pkg/proto"
)

var (
	// ErrSessionBusy is returned when user input arrives while an approval
	// decision is outstanding
	ErrSessionBusy = errors.New("session is awaiting an approval decision")
	// ErrNotActive is returned for operations that need a live session
	ErrNotActive = errors.New("session is not active")
)

// State is the lifecycle phase of a session
type State string

const (
	StateIdle             State = "idle"
	StateStarting         State = "starting"
	StateActive           State = "active"
	StateAwaitingApproval State = "awaiting_approval"
	StateInterrupting     State = "interrupting"
	StateStopped          State = "stopped"
	StateCrashed          State = "crashed"
)

// Transport is the subprocess stream the session drives. Satisfied by
// transport.Transport; faked in tests.
type Transport interface {
	Start(ctx context.Context) error
	WriteLine(data []byte) error
	Events() <-chan transport.Event
	Stop(ctx context.Context) error
	Running() bool
}

// Config carries the per-session agent configuration
type Config struct {
	// Cwd is the working directory reported to the agent
	Cwd string
	// Model overrides the agent default when non-empty
	Model string
	// ApprovalPolicy and SandboxMode default to the most restrictive values
	ApprovalPolicy string
	SandboxMode    string
	// Configure controls whether configure_session is sent after start
	Configure bool
}

// StateListener observes session state transitions
type StateListener func(from, to State)

// Snapshot is a point-in-time view of the session for status surfaces
type Snapshot struct {
	ID              string `json:"id"`
	State           State  `json:"state"`
	Busy            bool   `json:"busy"`
	AgentSessionID  string `json:"agent_session_id,omitempty"`
	Model           string `json:"model,omitempty"`
	PendingApproval string `json:"pending_approval,omitempty"`
	Messages        int    `json:"messages"`
}

// Session owns one agent conversation. All inbound processing happens on a
// single goroutine consuming the transport event stream, so transcript
// order matches emission order.
type Session struct {
	ID string

	cfg       Config
	transport Transport
	router    *router.Router
	approvals *approval.Queue
	logger    *logger.Logger

	mu             sync.Mutex
	state          State
	busy           bool
	started        bool
	stopRequested  bool
	agentSessionID string
	model          string
	onState        []StateListener

	done chan struct{}
}

// New creates an idle session around the given transport
func New(t Transport, r *router.Router, log *logger.Logger, cfg Config) *Session {
	id := uuid.New().String()
	return &Session{
		ID:        id,
		cfg:       cfg,
		transport: t,
		router:    r,
		approvals: approval.NewQueue(),
		logger:    log.WithFields(zap.String("component", "session"), zap.String("session_id", id)),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// Router exposes the session transcript
func (s *Session) Router() *router.Router {
	return s.router
}

// OnStateChange registers a transition observer. Must be called before Start.
func (s *Session) OnStateChange(fn StateListener) {
	s.mu.Lock()
	s.onState = append(s.onState, fn)
	s.mu.Unlock()
}

// State returns the current lifecycle phase
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current status view
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:             s.ID,
		State:          s.state,
		Busy:           s.busy,
		AgentSessionID: s.agentSessionID,
		Model:          s.model,
	}
	s.mu.Unlock()

	if req, ok := s.approvals.Pending(); ok {
		snap.PendingApproval = req.Summary()
	}
	snap.Messages = s.router.Len()
	return snap
}

// Start spawns the agent process and begins consuming its event stream
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already started", ErrNotActive)
	}
	s.setStateLocked(StateStarting)
	s.mu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		s.transition(StateCrashed)
		s.router.Append(router.RoleError, fmt.Sprintf("failed to start agent: %v", err))
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.run()

	if s.cfg.Configure {
		if err := s.writeOp(s.buildConfigure()); err != nil {
			s.logger.Warn("configure_session write failed", zap.Error(err))
		}
	}
	return nil
}

// Send transmits user input. Rejected with ErrSessionBusy while an approval
// decision is outstanding; the input never reaches the transport.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	switch s.state {
	case StateAwaitingApproval, StateInterrupting:
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrSessionBusy, s.state)
	case StateStarting, StateActive:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotActive, state)
	}
	s.mu.Unlock()

	// Echo before transmission so the transcript shows the prompt first
	s.router.Append(router.RoleUser, text)
	return s.writeOp(proto.NewUserInput(text))
}

// Approve resolves the pending approval request positively
func (s *Session) Approve() error {
	return s.resolveApproval(proto.DecisionApproved)
}

// Deny resolves the pending approval request negatively
func (s *Session) Deny() error {
	return s.resolveApproval(proto.DecisionDenied)
}

func (s *Session) resolveApproval(decision proto.ReviewDecision) error {
	req, err := s.approvals.Resolve(decision)
	if err != nil {
		return err
	}

	var op proto.Operation
	switch req.Kind {
	case approval.KindPatch:
		op = proto.NewPatchApproval(req.ID, decision)
	default:
		op = proto.NewExecApproval(req.ID, decision)
	}

	if err := s.writeOp(op); err != nil {
		return err
	}

	s.router.Append(router.RoleCommand, fmt.Sprintf("approval %s: %s", req.Status, req.Summary()))
	s.transitionFrom(StateAwaitingApproval, StateActive)
	return nil
}

// PendingApproval returns the outstanding approval request, if any
func (s *Session) PendingApproval() (*approval.Request, bool) {
	return s.approvals.Pending()
}

// Interrupt asks the agent to abandon the current turn. The process keeps
// running; the next inbound event returns the session to Active.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	switch s.state {
	case StateActive, StateAwaitingApproval, StateInterrupting, StateStarting:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotActive, state)
	}
	s.mu.Unlock()

	if err := s.writeOp(proto.NewInterrupt()); err != nil {
		return err
	}

	// An abandoned turn cannot keep a decision outstanding
	s.approvals.Clear()
	s.router.Append(router.RoleCommand, "interrupt requested")
	s.transition(StateInterrupting)
	return nil
}

// Stop terminates the agent process within the transport grace period and
// waits for the event stream to drain. Safe from any state.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopRequested = true
	started := s.started
	s.mu.Unlock()

	s.approvals.Clear()

	if !started {
		s.transition(StateStopped)
		return nil
	}

	if err := s.transport.Stop(ctx); err != nil {
		return err
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Done is closed once the inbound stream has fully drained
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run consumes transport events until the terminal exit record
func (s *Session) run() {
	defer close(s.done)

	for ev := range s.transport.Events() {
		if ev.Exit != nil {
			s.handleExit(ev.Exit)
			return
		}
		s.handleLine(ev.Line)
	}
}

// handleLine decodes and dispatches one protocol line. Decode failures are
// recorded and skipped; they never terminate the session.
func (s *Session) handleLine(line []byte) {
	event, err := proto.DecodeEvent(line)
	if err != nil {
		s.logger.Warn("dropping malformed line", zap.Error(err))
		s.router.Append(router.RoleError, fmt.Sprintf("malformed protocol line: %v", err))
		return
	}

	s.noteInbound()

	switch msg := event.Msg.(type) {
	case *proto.SessionConfigured:
		s.mu.Lock()
		s.agentSessionID = msg.SessionID
		s.model = msg.Model
		s.mu.Unlock()
	case *proto.TaskStarted:
		s.setBusy(true)
	case *proto.TaskComplete:
		s.setBusy(false)
	case *proto.ExecApprovalRequest:
		s.submitApproval(approval.NewExecRequest(event.ID, msg))
	case *proto.PatchApprovalRequest:
		s.submitApproval(approval.NewPatchRequest(event.ID, msg))
	}

	s.router.Route(event)
}

// noteInbound advances Starting and Interrupting to Active: any inbound
// event proves the process is ready or responsive again
func (s *Session) noteInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarting || s.state == StateInterrupting {
		s.setStateLocked(StateActive)
	}
}

func (s *Session) submitApproval(req *approval.Request) {
	if err := s.approvals.Submit(req); err != nil {
		s.logger.Warn("approval request rejected", zap.Error(err), zap.String("request_id", req.ID))
		s.router.Append(router.RoleError,
			fmt.Sprintf("second approval request rejected while one is pending: %s", req.Summary()))
		return
	}
	s.transition(StateAwaitingApproval)
}

func (s *Session) handleExit(status *transport.ExitStatus) {
	s.mu.Lock()
	requested := s.stopRequested
	s.mu.Unlock()

	s.approvals.Clear()

	if requested || (status.Code == 0 && status.Err == nil) {
		s.transition(StateStopped)
		return
	}

	s.router.Append(router.RoleError,
		fmt.Sprintf("agent process exited unexpectedly with code %d", status.Code))
	s.transition(StateCrashed)
}

func (s *Session) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()
}

func (s *Session) writeOp(op proto.Operation) error {
	data, err := proto.EncodeSubmission(proto.NewSubmission(op))
	if err != nil {
		return err
	}
	return s.transport.WriteLine(data)
}

func (s *Session) buildConfigure() *proto.ConfigureSession {
	op := proto.NewConfigureSession(s.cfg.Cwd)
	if s.cfg.Model != "" {
		op.Model = s.cfg.Model
	}
	if s.cfg.ApprovalPolicy != "" {
		op.ApprovalPolicy = s.cfg.ApprovalPolicy
	}
	if s.cfg.SandboxMode != "" {
		op.SandboxPolicy = &proto.SandboxPolicy{Mode: s.cfg.SandboxMode}
	}
	return op
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	s.setStateLocked(to)
	s.mu.Unlock()
}

// transitionFrom changes state only when currently in the expected phase
func (s *Session) transitionFrom(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.setStateLocked(to)
	}
	s.mu.Unlock()
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	// Terminal states stick; a late exit event must not resurrect a session
	if s.state == StateStopped || s.state == StateCrashed {
		return
	}
	old := s.state
	s.state = to
	s.logger.Debug("state transition", zap.String("from", string(old)), zap.String("to", string(to)))
	for _, fn := range s.onState {
		fn(old, to)
	}
}
