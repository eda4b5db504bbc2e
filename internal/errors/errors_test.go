package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestGobbyError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *GobbyError
		wantStr string
	}{
		{
			name: "simple error",
			err: &GobbyError{
				Code:    "TEST_001",
				Message: "test error",
			},
			wantStr: "[TEST_001] test error",
		},
		{
			name: "error with cause",
			err: &GobbyError{
				Code:    "TEST_002",
				Message: "wrapped error",
				Cause:   errors.New("underlying"),
			},
			wantStr: "[TEST_002] wrapped error: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantStr {
				t.Errorf("Error() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestGobbyError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap("TEST_001", "test", underlying)

	if !errors.Is(err, underlying) {
		t.Errorf("errors.Is should find the cause")
	}
}

func TestGobbyError_MarshalJSON(t *testing.T) {
	err := ActionFailed("webhook", errors.New("connection refused"))

	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("Marshal failed: %v", jerr)
	}

	var decoded map[string]any
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatalf("Unmarshal failed: %v", jerr)
	}
	if decoded["code"] != CodeActionFailed {
		t.Errorf("code = %v, want %s", decoded["code"], CodeActionFailed)
	}
	if decoded["cause"] != "connection refused" {
		t.Errorf("cause = %v, want connection refused", decoded["cause"])
	}
	details := decoded["details"].(map[string]any)
	if details["action"] != "webhook" {
		t.Errorf("details.action = %v, want webhook", details["action"])
	}
}

func TestHasCode(t *testing.T) {
	base := ApprovalExpired("tok")
	wrapped := fmt.Errorf("approve: %w", base)

	if !HasCode(wrapped, CodeApprovalExpired) {
		t.Error("expected HasCode to see through wrapping")
	}
	if HasCode(wrapped, CodeApprovalNotFound) {
		t.Error("expected HasCode to reject a different code")
	}
	if HasCode(errors.New("plain"), CodeApprovalExpired) {
		t.Error("expected HasCode false for plain error")
	}
}

func TestCode(t *testing.T) {
	if got := Code(DefinitionCycle("a", []string{"a", "b", "a"})); got != CodeDefinitionCycle {
		t.Errorf("Code() = %q, want %q", got, CodeDefinitionCycle)
	}
	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("Code() = %q, want empty", got)
	}
}
