// Package approval holds the single outstanding approval request of a
// session and its resolution lifecycle.
package approval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vimcodex/vimcodex/pkg/proto"
)

var (
	// ErrConflict is returned when a request arrives while one is pending
	ErrConflict = errors.New("an approval request is already pending")
	// ErrNoPending is returned when resolving without a pending request
	ErrNoPending = errors.New("no approval request is pending")
)

// Kind discriminates what the agent is asking permission for
type Kind string

const (
	KindExec  Kind = "exec"
	KindPatch Kind = "patch"
)

// Status is the lifecycle state of a request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is one agent-issued approval request. ID is the submission id of
// the originating event; the decision must echo it back.
type Request struct {
	ID        string
	Kind      Kind
	Command   []string
	Cwd       string
	Reason    string
	Changes   map[string]proto.FileChange
	Status    Status
	CreatedAt time.Time
}

// NewExecRequest builds a pending request from an exec_approval_request event
func NewExecRequest(id string, msg *proto.ExecApprovalRequest) *Request {
	return &Request{
		ID:        id,
		Kind:      KindExec,
		Command:   msg.Command,
		Cwd:       msg.Cwd,
		Reason:    msg.Reason,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// NewPatchRequest builds a pending request from an apply_patch_approval_request event
func NewPatchRequest(id string, msg *proto.PatchApprovalRequest) *Request {
	return &Request{
		ID:        id,
		Kind:      KindPatch,
		Changes:   msg.Changes,
		Reason:    msg.Reason,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Summary renders the request for display: the command line for exec
// requests, the change list for patch requests.
func (r *Request) Summary() string {
	switch r.Kind {
	case KindExec:
		return fmt.Sprintf("[%s]$ %s", r.Cwd, strings.Join(r.Command, " "))
	case KindPatch:
		paths := make([]string, 0, len(r.Changes))
		for path := range r.Changes {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		lines := make([]string, 0, len(paths))
		for _, path := range paths {
			lines = append(lines, fmt.Sprintf("%s %s", r.Changes[path].Type, path))
		}
		return strings.Join(lines, "\n")
	default:
		return string(r.Kind)
	}
}

// Queue holds at most one pending approval request
type Queue struct {
	mu      sync.Mutex
	pending *Request
}

// NewQueue creates an empty approval queue
func NewQueue() *Queue {
	return &Queue{}
}

// Submit stores a pending request. A second request while one is pending
// is rejected with ErrConflict; the first request is kept untouched.
func (q *Queue) Submit(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending != nil {
		return fmt.Errorf("%w: pending id %s, rejected id %s", ErrConflict, q.pending.ID, req.ID)
	}

	req.Status = StatusPending
	q.pending = req
	return nil
}

// Resolve transitions the pending request according to the decision and
// returns it for encoding. Returns ErrNoPending when the slot is empty.
func (q *Queue) Resolve(decision proto.ReviewDecision) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		return nil, ErrNoPending
	}

	req := q.pending
	q.pending = nil

	switch decision {
	case proto.DecisionApproved, proto.DecisionApprovedForSession:
		req.Status = StatusApproved
	default:
		req.Status = StatusDenied
	}
	return req, nil
}

// Pending returns the outstanding request, if any
func (q *Queue) Pending() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending, q.pending != nil
}

// Expire marks the pending request expired and clears the slot. The wire
// protocol defines no approval timeout, so this is only driven by an
// explicitly configured deadline.
func (q *Queue) Expire() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		return nil, false
	}
	req := q.pending
	req.Status = StatusExpired
	q.pending = nil
	return req, true
}

// Clear drops any pending request without resolving it (session teardown)
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}
