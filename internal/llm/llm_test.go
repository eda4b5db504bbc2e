package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gobby-stack/gobby/internal/config"
)

func TestCommand_Complete(t *testing.T) {
	c := &Command{Script: `printf '%s|%s|' "$GOBBY_SYSTEM" "$GOBBY_TOOLS"; cat`}

	out, err := c.Complete(context.Background(), Request{
		Prompt: "summarize",
		System: "be brief",
		Tools:  []string{"Read", "Grep"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "be brief|Read,Grep|summarize" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCommand_NonZeroExit(t *testing.T) {
	c := &Command{Script: "echo quota exceeded >&2; exit 3"}
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited 3") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error should carry exit code and stderr: %v", err)
	}
}

func TestCommand_Timeout(t *testing.T) {
	c := &Command{Script: "sleep 10", Timeout: 100 * time.Millisecond}
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSystemPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"empty", Request{}, ""},
		{"system only", Request{System: "s"}, "s"},
		{"tools only", Request{Tools: []string{"Read"}}, "Only these tools may be used: Read."},
		{"both", Request{System: "s", Tools: []string{"A", "B"}}, "s\n\nOnly these tools may be used: A, B."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := systemPrompt(tt.req); got != tt.want {
				t.Errorf("systemPrompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("GOBBY_TEST_KEY", "")

	if _, err := NewFromConfig(config.LLMConfig{Provider: "anthropic", APIKeyEnv: "GOBBY_TEST_KEY"}, nil); err == nil {
		t.Error("expected error when API key is missing")
	}

	t.Setenv("GOBBY_TEST_KEY", "sk-test")
	p, err := NewFromConfig(config.LLMConfig{Provider: "anthropic", APIKeyEnv: "GOBBY_TEST_KEY"}, nil)
	if err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if _, ok := p.(*Anthropic); !ok {
		t.Errorf("expected *Anthropic, got %T", p)
	}

	p, err = NewFromConfig(config.LLMConfig{Provider: "command", Command: "cat"}, nil)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if _, ok := p.(*Command); !ok {
		t.Errorf("expected *Command, got %T", p)
	}

	if _, err := NewFromConfig(config.LLMConfig{Provider: "openai"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{Err: context.Canceled}.Complete(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "llm unavailable") {
		t.Errorf("unexpected error %v", err)
	}
}
