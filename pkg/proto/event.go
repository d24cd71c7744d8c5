package proto

import "encoding/json"

// Inbound event message types
const (
	EventTypeError                = "error"
	EventTypeTaskStarted          = "task_started"
	EventTypeTaskComplete         = "task_complete"
	EventTypeTokenCount           = "token_count"
	EventTypeAgentMessage         = "agent_message"
	EventTypeAgentReasoning       = "agent_reasoning"
	EventTypeSessionConfigured    = "session_configured"
	EventTypeMcpToolCallBegin     = "mcp_tool_call_begin"
	EventTypeMcpToolCallEnd       = "mcp_tool_call_end"
	EventTypeExecCommandBegin     = "exec_command_begin"
	EventTypeExecCommandEnd       = "exec_command_end"
	EventTypeExecApprovalRequest  = "exec_approval_request"
	EventTypePatchApprovalRequest = "apply_patch_approval_request"
	EventTypeBackground           = "background_event"
	EventTypePatchApplyBegin      = "patch_apply_begin"
	EventTypePatchApplyEnd        = "patch_apply_end"
	EventTypeHistoryEntryResponse = "get_history_entry_response"
)

// EventMsg is the typed payload of one inbound event
type EventMsg interface {
	EventType() string
}

// Event is one inbound frame. ID is the submission id the event answers;
// approval decisions must echo it back.
type Event struct {
	ID  string
	Msg EventMsg
}

// FileChange kinds
const (
	FileChangeAdd    = "add"
	FileChangeDelete = "delete"
	FileChangeUpdate = "update"
)

// FileChange describes one file touched by a patch
type FileChange struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	UnifiedDiff string `json:"unified_diff,omitempty"`
	MovePath    string `json:"move_path,omitempty"`
}

// HistoryEntry is one agent-side history log record
type HistoryEntry struct {
	SessionID string `json:"session_id"`
	Ts        int64  `json:"ts"`
	Text      string `json:"text"`
}

// ErrorMsg reports an agent-side error
type ErrorMsg struct {
	Message string `json:"message"`
}

// EventType returns the wire type tag
func (*ErrorMsg) EventType() string { return EventTypeError }

// TaskStarted marks the beginning of an agent turn
type TaskStarted struct{}

// EventType returns the wire type tag
func (*TaskStarted) EventType() string { return EventTypeTaskStarted }

// TaskComplete marks the end of an agent turn
type TaskComplete struct {
	LastAgentMessage string `json:"last_agent_message"`
}

// EventType returns the wire type tag
func (*TaskComplete) EventType() string { return EventTypeTaskComplete }

// TokenCount reports token usage for the current turn
type TokenCount struct {
	InputTokens           int `json:"input_tokens"`
	CachedInputTokens     int `json:"cached_input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens"`
	TotalTokens           int `json:"total_tokens"`
}

// EventType returns the wire type tag
func (*TokenCount) EventType() string { return EventTypeTokenCount }

// AgentMessage is one chunk of agent response text for a turn
type AgentMessage struct {
	Message string `json:"message"`
}

// EventType returns the wire type tag
func (*AgentMessage) EventType() string { return EventTypeAgentMessage }

// AgentReasoning is one chunk of agent reasoning text for a turn
type AgentReasoning struct {
	Text string `json:"text"`
}

// EventType returns the wire type tag
func (*AgentReasoning) EventType() string { return EventTypeAgentReasoning }

// SessionConfigured acknowledges configure_session and reports the agent
// session identity
type SessionConfigured struct {
	SessionID         string `json:"session_id"`
	Model             string `json:"model"`
	HistoryLogID      int64  `json:"history_log_id"`
	HistoryEntryCount int    `json:"history_entry_count"`
}

// EventType returns the wire type tag
func (*SessionConfigured) EventType() string { return EventTypeSessionConfigured }

// McpToolCallBegin marks the start of an MCP tool invocation
type McpToolCallBegin struct {
	CallID    string          `json:"call_id"`
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// EventType returns the wire type tag
func (*McpToolCallBegin) EventType() string { return EventTypeMcpToolCallBegin }

// McpToolCallEnd marks the end of an MCP tool invocation
type McpToolCallEnd struct {
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// EventType returns the wire type tag
func (*McpToolCallEnd) EventType() string { return EventTypeMcpToolCallEnd }

// ExecCommandBegin marks the start of a shell command execution
type ExecCommandBegin struct {
	CallID  string   `json:"call_id"`
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

// EventType returns the wire type tag
func (*ExecCommandBegin) EventType() string { return EventTypeExecCommandBegin }

// ExecCommandEnd carries the outcome of a shell command execution
type ExecCommandEnd struct {
	CallID   string `json:"call_id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// EventType returns the wire type tag
func (*ExecCommandEnd) EventType() string { return EventTypeExecCommandEnd }

// ExecApprovalRequest asks the user for permission to run a command
type ExecApprovalRequest struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
	Reason  string   `json:"reason,omitempty"`
}

// EventType returns the wire type tag
func (*ExecApprovalRequest) EventType() string { return EventTypeExecApprovalRequest }

// PatchApprovalRequest asks the user for permission to apply file changes
type PatchApprovalRequest struct {
	Changes   map[string]FileChange `json:"changes"`
	Reason    string                `json:"reason,omitempty"`
	GrantRoot string                `json:"grant_root,omitempty"`
}

// EventType returns the wire type tag
func (*PatchApprovalRequest) EventType() string { return EventTypePatchApprovalRequest }

// BackgroundEvent is informational agent-side noise
type BackgroundEvent struct {
	Message string `json:"message"`
}

// EventType returns the wire type tag
func (*BackgroundEvent) EventType() string { return EventTypeBackground }

// PatchApplyBegin marks the start of a patch application
type PatchApplyBegin struct {
	CallID       string                `json:"call_id"`
	AutoApproved bool                  `json:"auto_approved"`
	Changes      map[string]FileChange `json:"changes"`
}

// EventType returns the wire type tag
func (*PatchApplyBegin) EventType() string { return EventTypePatchApplyBegin }

// PatchApplyEnd carries the outcome of a patch application
type PatchApplyEnd struct {
	CallID  string `json:"call_id"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

// EventType returns the wire type tag
func (*PatchApplyEnd) EventType() string { return EventTypePatchApplyEnd }

// HistoryEntryResponse answers a get_history_entry_request
type HistoryEntryResponse struct {
	Offset int           `json:"offset"`
	LogID  int64         `json:"log_id"`
	Entry  *HistoryEntry `json:"entry,omitempty"`
}

// EventType returns the wire type tag
func (*HistoryEntryResponse) EventType() string { return EventTypeHistoryEntryResponse }

// UnknownMsg preserves events of a type this protocol version does not know.
// The raw payload is kept so nothing is lost under protocol drift.
type UnknownMsg struct {
	Type string
	Raw  json.RawMessage
}

// EventType returns the wire type tag as received
func (m *UnknownMsg) EventType() string { return m.Type }
