// Package proto implements the codex proto wire protocol: newline-delimited
// JSON submissions going to the agent and events coming back.
package proto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Submission operation types
const (
	OpTypeConfigureSession = "configure_session"
	OpTypeUserInput        = "user_input"
	OpTypeExecApproval     = "exec_approval"
	OpTypePatchApproval    = "patch_approval"
	OpTypeInterrupt        = "interrupt"
	OpTypeAddToHistory     = "add_to_history"
	OpTypeGetHistoryEntry  = "get_history_entry_request"
)

// ReviewDecision is the verdict for an approval request
type ReviewDecision string

const (
	DecisionApproved           ReviewDecision = "approved"
	DecisionApprovedForSession ReviewDecision = "approved_for_session"
	DecisionDenied             ReviewDecision = "denied"
	DecisionAbort              ReviewDecision = "abort"
)

// Operation is one outbound protocol operation
type Operation interface {
	OperationType() string
}

// Submission is one outbound frame: an operation tagged with a unique id
type Submission struct {
	ID string
	Op Operation
}

// NewSubmission wraps an operation with a fresh submission id
func NewSubmission(op Operation) *Submission {
	return &Submission{
		ID: uuid.New().String(),
		Op: op,
	}
}

// MarshalJSON implements the {"id":..., "op":{...}} wire shape
func (s *Submission) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID string      `json:"id"`
		Op interface{} `json:"op"`
	}{
		ID: s.ID,
		Op: s.Op,
	})
}

// InputItem is one element of a user_input operation
type InputItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Path     string `json:"path,omitempty"`
}

// TextItem builds a plain text input item
func TextItem(text string) InputItem {
	return InputItem{Type: "text", Text: text}
}

// UserInput submits user text to the agent
type UserInput struct {
	Type  string      `json:"type"`
	Items []InputItem `json:"items"`
}

// NewUserInput builds a user_input operation from plain text
func NewUserInput(text string) *UserInput {
	return &UserInput{
		Type:  OpTypeUserInput,
		Items: []InputItem{TextItem(text)},
	}
}

// OperationType returns the wire type tag
func (*UserInput) OperationType() string { return OpTypeUserInput }

// ExecApproval answers an exec_approval_request; ID correlates to the
// submission id carried by the originating event
type ExecApproval struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Decision ReviewDecision `json:"decision"`
}

// NewExecApproval builds an exec_approval operation
func NewExecApproval(id string, decision ReviewDecision) *ExecApproval {
	return &ExecApproval{Type: OpTypeExecApproval, ID: id, Decision: decision}
}

// OperationType returns the wire type tag
func (*ExecApproval) OperationType() string { return OpTypeExecApproval }

// PatchApproval answers an apply_patch_approval_request
type PatchApproval struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Decision ReviewDecision `json:"decision"`
}

// NewPatchApproval builds a patch_approval operation
func NewPatchApproval(id string, decision ReviewDecision) *PatchApproval {
	return &PatchApproval{Type: OpTypePatchApproval, ID: id, Decision: decision}
}

// OperationType returns the wire type tag
func (*PatchApproval) OperationType() string { return OpTypePatchApproval }

// Interrupt asks the agent to abandon the current turn. Advisory: the
// process keeps running and the session stays open.
type Interrupt struct {
	Type string `json:"type"`
}

// NewInterrupt builds an interrupt operation
func NewInterrupt() *Interrupt {
	return &Interrupt{Type: OpTypeInterrupt}
}

// OperationType returns the wire type tag
func (*Interrupt) OperationType() string { return OpTypeInterrupt }

// AddToHistory records text in the agent-side message history
type AddToHistory struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewAddToHistory builds an add_to_history operation
func NewAddToHistory(text string) *AddToHistory {
	return &AddToHistory{Type: OpTypeAddToHistory, Text: text}
}

// OperationType returns the wire type tag
func (*AddToHistory) OperationType() string { return OpTypeAddToHistory }

// GetHistoryEntryRequest asks for one entry of the agent-side history log
type GetHistoryEntryRequest struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	LogID  int64  `json:"log_id"`
}

// NewGetHistoryEntryRequest builds a get_history_entry_request operation
func NewGetHistoryEntryRequest(offset int, logID int64) *GetHistoryEntryRequest {
	return &GetHistoryEntryRequest{Type: OpTypeGetHistoryEntry, Offset: offset, LogID: logID}
}

// OperationType returns the wire type tag
func (*GetHistoryEntryRequest) OperationType() string { return OpTypeGetHistoryEntry }

// Approval policies accepted by configure_session
const (
	ApprovalPolicyUnlessTrusted = "untrusted"
	ApprovalPolicyOnFailure     = "on-failure"
	ApprovalPolicyNever         = "never"
)

// Sandbox modes accepted by configure_session
const (
	SandboxModeReadOnly       = "read-only"
	SandboxModeWorkspaceWrite = "workspace-write"
	SandboxModeFullAccess     = "danger-full-access"
)

// ModelProviderInfo identifies the model provider for configure_session
type ModelProviderInfo struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	EnvKey  string `json:"env_key,omitempty"`
	WireAPI string `json:"wire_api,omitempty"`
}

// SandboxPolicy describes the sandbox the agent runs commands under
type SandboxPolicy struct {
	Mode          string   `json:"mode"`
	WritableRoots []string `json:"writable_roots,omitempty"`
	NetworkAccess bool     `json:"network_access,omitempty"`
}

// ConfigureSession is sent once after start to pin model, policies and cwd
type ConfigureSession struct {
	Type                   string             `json:"type"`
	Provider               *ModelProviderInfo `json:"provider,omitempty"`
	Model                  string             `json:"model,omitempty"`
	ModelReasoningEffort   string             `json:"model_reasoning_effort,omitempty"`
	ModelReasoningSummary  string             `json:"model_reasoning_summary,omitempty"`
	Instructions           string             `json:"instructions,omitempty"`
	ApprovalPolicy         string             `json:"approval_policy,omitempty"`
	SandboxPolicy          *SandboxPolicy     `json:"sandbox_policy,omitempty"`
	DisableResponseStorage bool               `json:"disable_response_storage"`
	Cwd                    string             `json:"cwd"`
	Notify                 []string           `json:"notify,omitempty"`
}

// NewConfigureSession builds a configure_session operation
func NewConfigureSession(cwd string) *ConfigureSession {
	return &ConfigureSession{
		Type:           OpTypeConfigureSession,
		ApprovalPolicy: ApprovalPolicyUnlessTrusted,
		SandboxPolicy:  &SandboxPolicy{Mode: SandboxModeReadOnly},
		Cwd:            cwd,
	}
}

// OperationType returns the wire type tag
func (*ConfigureSession) OperationType() string { return OpTypeConfigureSession }
