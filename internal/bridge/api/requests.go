// Package api provides the HTTP surface of the bridge.
package api

import (
	"time"

	"github.com/vimcodex/vimcodex/internal/engine/router"
)

// StartSessionRequest for starting a session
type StartSessionRequest struct {
	Cwd   string `json:"cwd,omitempty"`
	Model string `json:"model,omitempty"`
}

// SendInputRequest for forwarding user text to the agent
type SendInputRequest struct {
	Text string `json:"text" binding:"required"`
}

// VisibilityResponse reports the conversation panel state
type VisibilityResponse struct {
	Visible bool `json:"visible"`
}

// MessagesResponse for the transcript listing
type MessagesResponse struct {
	Messages []router.Message `json:"messages"`
	Total    int              `json:"total"`
}

// HealthResponse for health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
