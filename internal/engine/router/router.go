// Package router classifies decoded agent events into display roles and
// maintains the ordered session transcript.
package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/pkg/proto"
)

// Role tags one transcript message with its display classification
type Role string

const (
	RoleUser      Role = "user"
	RoleAgent     Role = "agent"
	RoleReasoning Role = "agent-reasoning"
	RoleCommand   Role = "command"
	RoleError     Role = "error"
)

// Message is one transcript entry. Streaming deltas grow the Text of an
// existing entry; everything else is append-only.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id,omitempty"`
}

// Listener receives every appended or updated message
type Listener func(Message)

// Router appends classified messages to the session log and fans them out
// to registered listeners. One router per session.
type Router struct {
	logger *logger.Logger

	mu        sync.Mutex
	log       []Message
	seq       int
	open      map[string]int // role|event-id -> log index for delta coalescing
	listeners []Listener
}

// New creates an empty router
func New(log *logger.Logger) *Router {
	return &Router{
		logger: log.WithFields(zap.String("component", "router")),
		open:   make(map[string]int),
	}
}

// AddListener registers a callback for appended and updated messages.
// Listeners are invoked synchronously in registration order.
func (r *Router) AddListener(fn Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Route classifies one decoded event and appends it to the transcript.
// Unknown kinds become error-role messages with the raw payload preserved.
func (r *Router) Route(event *proto.Event) {
	switch msg := event.Msg.(type) {
	case *proto.AgentMessage:
		r.coalesce(RoleAgent, event.ID, msg.Message)
	case *proto.AgentReasoning:
		r.coalesce(RoleReasoning, event.ID, msg.Text)
	case *proto.ErrorMsg:
		r.Append(RoleError, msg.Message)
	case *proto.SessionConfigured:
		r.Append(RoleCommand, fmt.Sprintf("session configured: model %s", msg.Model))
	case *proto.ExecCommandBegin:
		r.Append(RoleCommand, fmt.Sprintf("[%s]$ %s", msg.Cwd, strings.Join(msg.Command, " ")))
	case *proto.ExecCommandEnd:
		r.Append(RoleCommand, renderExecEnd(msg))
	case *proto.ExecApprovalRequest:
		r.Append(RoleCommand, fmt.Sprintf("approval requested: [%s]$ %s",
			msg.Cwd, strings.Join(msg.Command, " ")))
	case *proto.PatchApprovalRequest:
		r.Append(RoleCommand, fmt.Sprintf("approval requested: patch touching %d file(s)", len(msg.Changes)))
	case *proto.PatchApplyBegin:
		r.Append(RoleCommand, "applying patch")
	case *proto.PatchApplyEnd:
		if msg.Success {
			r.Append(RoleCommand, "patch applied")
		} else {
			r.Append(RoleError, "patch failed to apply")
		}
	case *proto.McpToolCallBegin:
		r.Append(RoleCommand, fmt.Sprintf("tool call: %s.%s", msg.Server, msg.Tool))
	case *proto.McpToolCallEnd:
		r.Append(RoleCommand, fmt.Sprintf("tool call finished: %s", msg.CallID))
	case *proto.BackgroundEvent:
		r.Append(RoleCommand, msg.Message)
	case *proto.TaskStarted, *proto.TaskComplete, *proto.TokenCount, *proto.HistoryEntryResponse:
		// Lifecycle and accounting events drive session state, not the transcript
		r.logger.Debug("lifecycle event", zap.String("type", event.Msg.EventType()))
	case *proto.UnknownMsg:
		r.Append(RoleError, fmt.Sprintf("unrecognized event %q: %s", msg.Type, msg.Raw))
	default:
		r.Append(RoleError, fmt.Sprintf("unhandled event type %s", event.Msg.EventType()))
	}
}

// Append adds a complete message without coalescing
func (r *Router) Append(role Role, text string) Message {
	r.mu.Lock()
	msg := r.appendLocked(role, text, "")
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	notify(listeners, msg)
	return msg
}

// coalesce grows an open delta message for the same role and event id, or
// opens a new one. Interleaved events of other kinds do not break a turn.
func (r *Router) coalesce(role Role, eventID, text string) {
	key := string(role) + "|" + eventID

	r.mu.Lock()
	var msg Message
	if idx, ok := r.open[key]; ok && eventID != "" {
		r.log[idx].Text += text
		msg = r.log[idx]
	} else {
		msg = r.appendLocked(role, text, eventID)
		if eventID != "" {
			r.open[key] = msg.Seq
		}
	}
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	notify(listeners, msg)
}

func (r *Router) appendLocked(role Role, text, eventID string) Message {
	msg := Message{
		Role:      role,
		Text:      text,
		Seq:       r.seq,
		Timestamp: time.Now(),
		EventID:   eventID,
	}
	r.log = append(r.log, msg)
	r.seq++
	return msg
}

func (r *Router) snapshotListeners() []Listener {
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func notify(listeners []Listener, msg Message) {
	for _, fn := range listeners {
		fn(msg)
	}
}

// Log returns a copy of the transcript in receipt order
func (r *Router) Log() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

// Len returns the number of transcript entries
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

func renderExecEnd(msg *proto.ExecCommandEnd) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit %d", msg.ExitCode)
	if out := strings.TrimRight(msg.Stdout, "\n"); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	if errOut := strings.TrimRight(msg.Stderr, "\n"); errOut != "" {
		b.WriteString("\n")
		b.WriteString(errOut)
	}
	return b.String()
}
