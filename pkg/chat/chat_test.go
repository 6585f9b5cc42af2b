package chat

import "testing"

func TestNewConversationShape(t *testing.T) {
	conv := NewConversation("sys", "hello")
	if err := conv.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.System() != "sys" || conv.User() != "hello" {
		t.Fatalf("unexpected accessors: %q %q", conv.System(), conv.User())
	}
}

func TestValidateRejectsBadShapes(t *testing.T) {
	cases := map[string]Conversation{
		"empty":      {},
		"only user":  {{Role: RoleUser, Content: "x"}},
		"swapped":    {{Role: RoleUser, Content: "x"}, {Role: RoleSystem, Content: "y"}},
		"empty user": {{Role: RoleSystem, Content: "x"}, {Role: RoleUser}},
		"three": {
			{Role: RoleSystem, Content: "x"},
			{Role: RoleUser, Content: "y"},
			{Role: RoleAssistant, Content: "z"},
		},
	}
	for name, conv := range cases {
		if err := conv.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestCharsCountsRunes(t *testing.T) {
	conv := NewConversation("é", "日本")
	if got := conv.Chars(); got != 3 {
		t.Fatalf("expected 3 chars, got %d", got)
	}
}

func TestAttempts(t *testing.T) {
	if got := (RequestConfig{MaxRetries: 2}).Attempts(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if got := (RequestConfig{MaxRetries: -1}).Attempts(); got != 1 {
		t.Fatalf("expected 1 attempt for negative retries, got %d", got)
	}
}
