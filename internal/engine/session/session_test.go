package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/approval"
	"github.com/vimcodex/vimcodex/internal/engine/router"
	"github.com/vimcodex/vimcodex/internal/engine/transport"
)

// fakeTransport feeds scripted lines through the session event channel
type fakeTransport struct {
	mu       sync.Mutex
	events   chan transport.Event
	writes   [][]byte
	started  bool
	stopped  bool
	closed   bool
	startErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 64)}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) WriteLine(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || f.stopped {
		return transport.ErrPipeClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()
	f.exit(0)
	return nil
}

func (f *fakeTransport) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.closed
}

func (f *fakeTransport) line(s string) {
	f.events <- transport.Event{Line: []byte(s)}
}

func (f *fakeTransport) exit(code int) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	var err error
	if code != 0 {
		err = fmt.Errorf("exit status %d", code)
	}
	f.events <- transport.Event{Exit: &transport.ExitStatus{Code: code, Err: err}}
	close(f.events)
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) lastWrite() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return ""
	}
	return string(f.writes[len(f.writes)-1])
}

func newTestSession() (*Session, *fakeTransport) {
	ft := newFakeTransport()
	s := New(ft, router.New(logger.NewNop()), logger.NewNop(), Config{Cwd: "/work"})
	return s, ft
}

func startTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := newTestSession()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s, ft
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const execApprovalLine = `{"id":"req-9","msg":{"type":"exec_approval_request","command":["rm","-rf","tmp"],"cwd":"/work","reason":"cleanup"}}`

func TestStartSpawnFailureCrashes(t *testing.T) {
	s, ft := newTestSession()
	ft.startErr = fmt.Errorf("%w: no such binary", transport.ErrSpawn)

	err := s.Start(context.Background())
	if !errors.Is(err, transport.ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if s.State() != StateCrashed {
		t.Errorf("expected Crashed, got %s", s.State())
	}

	log := s.Router().Log()
	if len(log) != 1 || log[0].Role != router.RoleError {
		t.Errorf("expected one error message, got %+v", log)
	}
}

func TestFirstEventActivates(t *testing.T) {
	s, ft := startTestSession(t)
	if s.State() != StateStarting {
		t.Fatalf("expected Starting, got %s", s.State())
	}

	ft.line(`{"id":"init","msg":{"type":"session_configured","session_id":"s-1","model":"o3"}}`)
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	snap := s.Snapshot()
	if snap.AgentSessionID != "s-1" || snap.Model != "o3" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestSendEchoesThenWrites(t *testing.T) {
	s, ft := startTestSession(t)

	if err := s.Send("fix the bug"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	log := s.Router().Log()
	if len(log) != 1 || log[0].Role != router.RoleUser || log[0].Text != "fix the bug" {
		t.Errorf("expected user echo first, got %+v", log)
	}
	if ft.writeCount() != 1 {
		t.Fatalf("expected 1 write, got %d", ft.writeCount())
	}
	if !strings.Contains(ft.lastWrite(), `"type":"user_input"`) {
		t.Errorf("expected user_input op, got %s", ft.lastWrite())
	}
}

func TestSendBeforeStart(t *testing.T) {
	s, _ := newTestSession()
	if err := s.Send("too early"); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestSendWhileAwaitingApprovalRejected(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(execApprovalLine)
	waitFor(t, "awaiting approval", func() bool { return s.State() == StateAwaitingApproval })

	err := s.Send("more input")
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	// Rejected input must never reach the transport
	if ft.writeCount() != 0 {
		t.Errorf("expected no writes, got %d", ft.writeCount())
	}
}

func TestDenyEncodesMatchingID(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(execApprovalLine)
	waitFor(t, "awaiting approval", func() bool { return s.State() == StateAwaitingApproval })

	if err := s.Deny(); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}

	wire := ft.lastWrite()
	if !strings.Contains(wire, `"type":"exec_approval"`) {
		t.Errorf("expected exec_approval op, got %s", wire)
	}
	if !strings.Contains(wire, `"id":"req-9"`) {
		t.Errorf("decision must echo the request id, got %s", wire)
	}
	if !strings.Contains(wire, `"decision":"denied"`) {
		t.Errorf("expected denied decision, got %s", wire)
	}
	if s.State() != StateActive {
		t.Errorf("expected Active after deny, got %s", s.State())
	}
}

func TestApprovePatchRequest(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(`{"id":"req-p","msg":{"type":"apply_patch_approval_request","changes":{"a.go":{"type":"update","unified_diff":"-x\n+y\n"}}}}`)
	waitFor(t, "awaiting approval", func() bool { return s.State() == StateAwaitingApproval })

	if err := s.Approve(); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	wire := ft.lastWrite()
	if !strings.Contains(wire, `"type":"patch_approval"`) || !strings.Contains(wire, `"id":"req-p"`) {
		t.Errorf("unexpected decision frame: %s", wire)
	}
	if !strings.Contains(wire, `"decision":"approved"`) {
		t.Errorf("expected approved decision, got %s", wire)
	}
}

func TestApproveWithoutPending(t *testing.T) {
	s, _ := startTestSession(t)
	if err := s.Approve(); !errors.Is(err, approval.ErrNoPending) {
		t.Errorf("expected ErrNoPending, got %v", err)
	}
}

func TestSecondApprovalRequestKeepsFirst(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(execApprovalLine)
	ft.line(`{"id":"req-10","msg":{"type":"exec_approval_request","command":["curl","evil"],"cwd":"/work"}}`)
	waitFor(t, "second request processed", func() bool { return s.Router().Len() >= 3 })

	req, ok := s.PendingApproval()
	if !ok {
		t.Fatal("expected a pending request")
	}
	if req.ID != "req-9" {
		t.Errorf("first request must be kept, got %s", req.ID)
	}

	var sawRejection bool
	for _, msg := range s.Router().Log() {
		if msg.Role == router.RoleError && strings.Contains(msg.Text, "second approval request rejected") {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Error("rejection must be visible in the transcript")
	}
}

func TestMalformedLineDoesNotKillSession(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line("this is not json")
	ft.line(`{"id":"t1","msg":{"type":"agent_message","message":"still alive"}}`)
	waitFor(t, "both lines processed", func() bool { return s.Router().Len() >= 2 })

	log := s.Router().Log()
	if log[0].Role != router.RoleError || !strings.Contains(log[0].Text, "malformed") {
		t.Errorf("expected malformed-line error first, got %+v", log[0])
	}
	if log[1].Role != router.RoleAgent || log[1].Text != "still alive" {
		t.Errorf("valid line after garbage must still be processed, got %+v", log[1])
	}
	if s.State() == StateCrashed {
		t.Error("malformed line must not crash the session")
	}
}

func TestUnexpectedExitCrashesWithCodeInLog(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(`{"id":"t1","msg":{"type":"agent_message","message":"hi"}}`)
	ft.exit(1)

	<-s.Done()
	if s.State() != StateCrashed {
		t.Fatalf("expected Crashed, got %s", s.State())
	}

	var found bool
	for _, msg := range s.Router().Log() {
		if msg.Role == router.RoleError && strings.Contains(msg.Text, "code 1") {
			found = true
		}
	}
	if !found {
		t.Error("exit code must appear in an error message")
	}
}

func TestCleanExitStops(t *testing.T) {
	s, ft := startTestSession(t)
	ft.exit(0)

	<-s.Done()
	if s.State() != StateStopped {
		t.Errorf("expected Stopped after clean exit, got %s", s.State())
	}
}

func TestStopFromActive(t *testing.T) {
	s, ft := startTestSession(t)
	ft.line(`{"id":"t1","msg":{"type":"agent_message","message":"hi"}}`)
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected Stopped, got %s", s.State())
	}
}

func TestStopBeforeStart(t *testing.T) {
	s, _ := newTestSession()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected Stopped, got %s", s.State())
	}
}

func TestInterruptRoundTrip(t *testing.T) {
	s, ft := startTestSession(t)
	ft.line(`{"id":"t1","msg":{"type":"agent_message","message":"working on it"}}`)
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if s.State() != StateInterrupting {
		t.Fatalf("expected Interrupting, got %s", s.State())
	}
	if !strings.Contains(ft.lastWrite(), `"type":"interrupt"`) {
		t.Errorf("expected interrupt op, got %s", ft.lastWrite())
	}

	// Next inbound event proves the agent is responsive again
	ft.line(`{"id":"t2","msg":{"type":"task_complete","last_agent_message":""}}`)
	waitFor(t, "active after interrupt", func() bool { return s.State() == StateActive })
}

func TestInterruptClearsPendingApproval(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(execApprovalLine)
	waitFor(t, "awaiting approval", func() bool { return s.State() == StateAwaitingApproval })

	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if _, ok := s.PendingApproval(); ok {
		t.Error("interrupt must clear the pending approval")
	}
}

func TestBusyFlagTracksTaskLifecycle(t *testing.T) {
	s, ft := startTestSession(t)

	ft.line(`{"id":"t1","msg":{"type":"task_started"}}`)
	waitFor(t, "busy flag", func() bool { return s.Snapshot().Busy })

	ft.line(`{"id":"t1","msg":{"type":"task_complete","last_agent_message":"done"}}`)
	waitFor(t, "busy cleared", func() bool { return !s.Snapshot().Busy })
}

func TestStateListenerObservesTransitions(t *testing.T) {
	s, ft := newTestSession()

	var mu sync.Mutex
	var transitions []State
	s.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ft.line(`{"id":"t1","msg":{"type":"agent_message","message":"hi"}}`)
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateActive, StateStopped}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i, state := range want {
		if transitions[i] != state {
			t.Errorf("transition %d: expected %s, got %s", i, state, transitions[i])
		}
	}
}

func TestConfigureSentOnStart(t *testing.T) {
	ft := newFakeTransport()
	s := New(ft, router.New(logger.NewNop()), logger.NewNop(), Config{
		Cwd:       "/work",
		Model:     "o3",
		Configure: true,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "configure write", func() bool { return ft.writeCount() == 1 })
	wire := ft.lastWrite()
	if !strings.Contains(wire, `"type":"configure_session"`) {
		t.Errorf("expected configure_session op, got %s", wire)
	}
	if !strings.Contains(wire, `"cwd":"/work"`) || !strings.Contains(wire, `"model":"o3"`) {
		t.Errorf("unexpected configure payload: %s", wire)
	}
}
