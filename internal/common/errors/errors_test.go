package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestConstructorsMapCodesAndStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"not found", NotFound("session", "current"), ErrCodeNotFound, http.StatusNotFound},
		{"bad request", BadRequest("missing field"), ErrCodeBadRequest, http.StatusBadRequest},
		{"conflict", Conflict("already pending"), ErrCodeConflict, http.StatusConflict},
		{"session busy", SessionBusy("awaiting approval"), ErrCodeSessionBusy, http.StatusConflict},
		{"internal", InternalError("boom", nil), ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if tt.err.Code != tt.wantCode {
			t.Errorf("%s: expected code %s, got %s", tt.name, tt.wantCode, tt.err.Code)
		}
		if tt.err.HTTPStatus != tt.wantStatus {
			t.Errorf("%s: expected status %d, got %d", tt.name, tt.wantStatus, tt.err.HTTPStatus)
		}
	}
}

func TestInternalErrorUnwraps(t *testing.T) {
	cause := stderrors.New("disk full")
	appErr := InternalError("failed to persist", cause)

	if !stderrors.Is(appErr, cause) {
		t.Error("wrapped cause must be reachable through errors.Is")
	}
	if got := appErr.Error(); got == "" || got == cause.Error() {
		t.Errorf("Error() must include code and message, got %q", got)
	}
}

func TestErrorWithoutCause(t *testing.T) {
	appErr := Conflict("state mismatch")
	if appErr.Unwrap() != nil {
		t.Error("expected nil unwrap for error without cause")
	}
	if appErr.Error() != "CONFLICT: state mismatch" {
		t.Errorf("unexpected Error(): %q", appErr.Error())
	}
}
