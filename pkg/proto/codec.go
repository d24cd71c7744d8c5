package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError wraps a single malformed inbound line. It is never fatal:
// callers record it and keep reading.
type DecodeError struct {
	Line []byte
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode protocol line: %v", e.Err)
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeSubmission serializes one outbound frame without the line terminator
func EncodeSubmission(sub *Submission) ([]byte, error) {
	if sub.Op == nil {
		return nil, errors.New("submission has no operation")
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}
	return data, nil
}

// DecodeEvent parses one inbound line into a typed event. A parse failure
// returns a *DecodeError carrying the raw line.
func DecodeEvent(line []byte) (*Event, error) {
	var env struct {
		ID  string          `json:"id"`
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: cloneBytes(line), Err: err}
	}
	if len(env.Msg) == 0 {
		return nil, &DecodeError{Line: cloneBytes(line), Err: errors.New("missing msg field")}
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Msg, &head); err != nil {
		return nil, &DecodeError{Line: cloneBytes(line), Err: err}
	}

	msg, err := decodeMsg(head.Type, env.Msg)
	if err != nil {
		return nil, &DecodeError{Line: cloneBytes(line), Err: err}
	}

	return &Event{ID: env.ID, Msg: msg}, nil
}

func decodeMsg(msgType string, raw json.RawMessage) (EventMsg, error) {
	var msg EventMsg
	switch msgType {
	case EventTypeError:
		msg = &ErrorMsg{}
	case EventTypeTaskStarted:
		msg = &TaskStarted{}
	case EventTypeTaskComplete:
		msg = &TaskComplete{}
	case EventTypeTokenCount:
		msg = &TokenCount{}
	case EventTypeAgentMessage:
		msg = &AgentMessage{}
	case EventTypeAgentReasoning:
		msg = &AgentReasoning{}
	case EventTypeSessionConfigured:
		msg = &SessionConfigured{}
	case EventTypeMcpToolCallBegin:
		msg = &McpToolCallBegin{}
	case EventTypeMcpToolCallEnd:
		msg = &McpToolCallEnd{}
	case EventTypeExecCommandBegin:
		msg = &ExecCommandBegin{}
	case EventTypeExecCommandEnd:
		msg = &ExecCommandEnd{}
	case EventTypeExecApprovalRequest:
		msg = &ExecApprovalRequest{}
	case EventTypePatchApprovalRequest:
		msg = &PatchApprovalRequest{}
	case EventTypeBackground:
		msg = &BackgroundEvent{}
	case EventTypePatchApplyBegin:
		msg = &PatchApplyBegin{}
	case EventTypePatchApplyEnd:
		msg = &PatchApplyEnd{}
	case EventTypeHistoryEntryResponse:
		msg = &HistoryEntryResponse{}
	default:
		return &UnknownMsg{Type: msgType, Raw: cloneBytes(raw)}, nil
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
