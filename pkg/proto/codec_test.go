package proto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeUserInput(t *testing.T) {
	sub := &Submission{ID: "sub-1", Op: NewUserInput("hello agent")}

	data, err := EncodeSubmission(sub)
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("encoded submission is not valid JSON: %v", err)
	}
	if decoded["id"] != "sub-1" {
		t.Errorf("expected id = sub-1, got %v", decoded["id"])
	}

	op := decoded["op"].(map[string]interface{})
	if op["type"] != OpTypeUserInput {
		t.Errorf("expected op type %s, got %v", OpTypeUserInput, op["type"])
	}
	items := op["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 input item, got %d", len(items))
	}
	item := items[0].(map[string]interface{})
	if item["type"] != "text" || item["text"] != "hello agent" {
		t.Errorf("unexpected input item: %v", item)
	}
}

func TestEncodeApprovalDecisions(t *testing.T) {
	tests := []struct {
		name     string
		op       Operation
		wantType string
	}{
		{"exec approved", NewExecApproval("ev-1", DecisionApproved), OpTypeExecApproval},
		{"exec denied", NewExecApproval("ev-2", DecisionDenied), OpTypeExecApproval},
		{"patch approved", NewPatchApproval("ev-3", DecisionApproved), OpTypePatchApproval},
		{"patch abort", NewPatchApproval("ev-4", DecisionAbort), OpTypePatchApproval},
	}

	for _, tt := range tests {
		data, err := EncodeSubmission(NewSubmission(tt.op))
		if err != nil {
			t.Fatalf("%s: EncodeSubmission failed: %v", tt.name, err)
		}
		if !strings.Contains(string(data), `"type":"`+tt.wantType+`"`) {
			t.Errorf("%s: missing op type in %s", tt.name, data)
		}
	}
}

func TestEncodeDecisionEchoesRequestID(t *testing.T) {
	data, err := EncodeSubmission(NewSubmission(NewExecApproval("req-42", DecisionDenied)))
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}

	var decoded struct {
		Op struct {
			ID       string `json:"id"`
			Decision string `json:"decision"`
		} `json:"op"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Op.ID != "req-42" {
		t.Errorf("expected decision id req-42, got %s", decoded.Op.ID)
	}
	if decoded.Op.Decision != string(DecisionDenied) {
		t.Errorf("expected decision denied, got %s", decoded.Op.Decision)
	}
}

func TestEncodeInterrupt(t *testing.T) {
	data, err := EncodeSubmission(NewSubmission(NewInterrupt()))
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"interrupt"`) {
		t.Errorf("missing interrupt type in %s", data)
	}
}

func TestEncodeHistoryOps(t *testing.T) {
	data, err := EncodeSubmission(NewSubmission(NewAddToHistory("remember this")))
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"add_to_history"`) ||
		!strings.Contains(string(data), `"text":"remember this"`) {
		t.Errorf("unexpected add_to_history frame: %s", data)
	}

	data, err = EncodeSubmission(NewSubmission(NewGetHistoryEntryRequest(3, 77)))
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"get_history_entry_request"`) ||
		!strings.Contains(string(data), `"offset":3`) ||
		!strings.Contains(string(data), `"log_id":77`) {
		t.Errorf("unexpected get_history_entry_request frame: %s", data)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	sub := &Submission{ID: "fixed", Op: NewUserInput("same text")}

	first, err := EncodeSubmission(sub)
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}
	second, err := EncodeSubmission(sub)
	if err != nil {
		t.Fatalf("EncodeSubmission failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("encoding not deterministic:\n%s\n%s", first, second)
	}
}

func TestNewSubmissionAssignsUniqueIDs(t *testing.T) {
	a := NewSubmission(NewInterrupt())
	b := NewSubmission(NewInterrupt())
	if a.ID == "" || b.ID == "" {
		t.Fatal("submission ids must not be empty")
	}
	if a.ID == b.ID {
		t.Errorf("submission ids must be unique, both were %s", a.ID)
	}
}

func TestDecodeAgentMessage(t *testing.T) {
	line := `{"id":"ev-1","msg":{"type":"agent_message","message":"hi there"}}`

	event, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if event.ID != "ev-1" {
		t.Errorf("expected id ev-1, got %s", event.ID)
	}
	msg, ok := event.Msg.(*AgentMessage)
	if !ok {
		t.Fatalf("expected *AgentMessage, got %T", event.Msg)
	}
	if msg.Message != "hi there" {
		t.Errorf("expected message 'hi there', got %q", msg.Message)
	}
}

func TestDecodeExecApprovalRequest(t *testing.T) {
	line := `{"id":"ev-2","msg":{"type":"exec_approval_request","command":["rm","-rf","tmp"],"cwd":"/work","reason":"cleanup"}}`

	event, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	req, ok := event.Msg.(*ExecApprovalRequest)
	if !ok {
		t.Fatalf("expected *ExecApprovalRequest, got %T", event.Msg)
	}
	if len(req.Command) != 3 || req.Command[0] != "rm" {
		t.Errorf("unexpected command: %v", req.Command)
	}
	if req.Cwd != "/work" || req.Reason != "cleanup" {
		t.Errorf("unexpected cwd/reason: %s / %s", req.Cwd, req.Reason)
	}
}

func TestDecodePatchApprovalRequest(t *testing.T) {
	line := `{"id":"ev-3","msg":{"type":"apply_patch_approval_request","changes":{"main.go":{"type":"update","unified_diff":"--- a\n+++ b\n"},"new.go":{"type":"add","content":"package main\n"}}}}`

	event, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	req, ok := event.Msg.(*PatchApprovalRequest)
	if !ok {
		t.Fatalf("expected *PatchApprovalRequest, got %T", event.Msg)
	}
	if len(req.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(req.Changes))
	}
	if req.Changes["main.go"].Type != FileChangeUpdate {
		t.Errorf("expected update change for main.go, got %s", req.Changes["main.go"].Type)
	}
	if req.Changes["new.go"].Content == "" {
		t.Error("expected content for added file")
	}
}

func TestDecodeExecCommandLifecycle(t *testing.T) {
	begin, err := DecodeEvent([]byte(`{"id":"ev-4","msg":{"type":"exec_command_begin","call_id":"c1","command":["go","test"],"cwd":"/repo"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent begin failed: %v", err)
	}
	if _, ok := begin.Msg.(*ExecCommandBegin); !ok {
		t.Fatalf("expected *ExecCommandBegin, got %T", begin.Msg)
	}

	end, err := DecodeEvent([]byte(`{"id":"ev-5","msg":{"type":"exec_command_end","call_id":"c1","stdout":"ok\n","stderr":"","exit_code":0}}`))
	if err != nil {
		t.Fatalf("DecodeEvent end failed: %v", err)
	}
	endMsg, ok := end.Msg.(*ExecCommandEnd)
	if !ok {
		t.Fatalf("expected *ExecCommandEnd, got %T", end.Msg)
	}
	if endMsg.ExitCode != 0 || endMsg.Stdout != "ok\n" {
		t.Errorf("unexpected end payload: %+v", endMsg)
	}
}

func TestDecodeSessionConfigured(t *testing.T) {
	line := `{"id":"ev-6","msg":{"type":"session_configured","session_id":"s-9","model":"o3","history_log_id":7,"history_entry_count":12}}`

	event, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	cfg, ok := event.Msg.(*SessionConfigured)
	if !ok {
		t.Fatalf("expected *SessionConfigured, got %T", event.Msg)
	}
	if cfg.SessionID != "s-9" || cfg.Model != "o3" || cfg.HistoryLogID != 7 {
		t.Errorf("unexpected payload: %+v", cfg)
	}
}

func TestDecodeUnknownTypePreservesRaw(t *testing.T) {
	line := `{"id":"ev-7","msg":{"type":"quantum_flux","payload":{"x":1}}}`

	event, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	unknown, ok := event.Msg.(*UnknownMsg)
	if !ok {
		t.Fatalf("expected *UnknownMsg, got %T", event.Msg)
	}
	if unknown.Type != "quantum_flux" {
		t.Errorf("expected type quantum_flux, got %s", unknown.Type)
	}
	if !strings.Contains(string(unknown.Raw), `"x":1`) {
		t.Errorf("raw payload not preserved: %s", unknown.Raw)
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "this is not json"},
		{"truncated", `{"id":"ev-8","msg":{"type":"agent_mess`},
		{"missing msg", `{"id":"ev-9"}`},
		{"wrong field types", `{"id":"ev-10","msg":{"type":"exec_command_end","exit_code":"nope"}}`},
	}

	for _, tt := range tests {
		_, err := DecodeEvent([]byte(tt.line))
		if err == nil {
			t.Errorf("%s: expected decode error", tt.name)
			continue
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("%s: expected *DecodeError, got %T", tt.name, err)
			continue
		}
		if string(decodeErr.Line) != tt.line {
			t.Errorf("%s: raw line not preserved", tt.name)
		}
	}
}

func TestDecodeTaskLifecycle(t *testing.T) {
	started, err := DecodeEvent([]byte(`{"id":"ev-11","msg":{"type":"task_started"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if _, ok := started.Msg.(*TaskStarted); !ok {
		t.Fatalf("expected *TaskStarted, got %T", started.Msg)
	}

	complete, err := DecodeEvent([]byte(`{"id":"ev-12","msg":{"type":"task_complete","last_agent_message":"done"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	tc, ok := complete.Msg.(*TaskComplete)
	if !ok {
		t.Fatalf("expected *TaskComplete, got %T", complete.Msg)
	}
	if tc.LastAgentMessage != "done" {
		t.Errorf("expected last message 'done', got %q", tc.LastAgentMessage)
	}
}
