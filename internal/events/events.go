// Package events defines the bus subjects published by the bridge.
package events

// Session lifecycle subjects
const (
	SessionStarted           = "session.started"
	SessionStopped           = "session.stopped"
	SessionCrashed           = "session.crashed"
	SessionApprovalRequested = "session.approval_requested"
	SessionApprovalResolved  = "session.approval_resolved"
)

// SubjectAllSessions matches every session subject
const SubjectAllSessions = "session.>"
