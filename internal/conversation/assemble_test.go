package conversation

import (
	"fmt"
	"testing"

	"privchat/internal/providers"
	"privchat/internal/storage"
)

func human(id, content string) storage.Message {
	return storage.Message{SenderID: &id, Content: content}
}

func assistant(content string) storage.Message {
	return storage.Message{Content: content, IsAIResponse: true}
}

func TestBuildEmptyHistory(t *testing.T) {
	got := Build(nil, "u1", "hi", DefaultWindow)
	if len(got) != 1 || got[0] != (providers.Message{Role: providers.RoleUser, Content: "hi"}) {
		t.Fatalf("unexpected messages %+v", got)
	}
}

func TestBuildKeepsMostRecentWindow(t *testing.T) {
	history := make([]storage.Message, 0, 25)
	for i := 0; i < 25; i++ {
		if i%2 == 0 {
			history = append(history, human("u1", fmt.Sprintf("m%d", i)))
		} else {
			history = append(history, assistant(fmt.Sprintf("m%d", i)))
		}
	}

	got := Build(history, "u1", "m24", 20)
	if len(got) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(got))
	}
	if got[0].Content != "m5" || got[19].Content != "m24" {
		t.Fatalf("expected m5..m24, got %q..%q", got[0].Content, got[19].Content)
	}
	if got[0].Role != providers.RoleAssistant || got[19].Role != providers.RoleUser {
		t.Fatalf("unexpected roles %q/%q", got[0].Role, got[19].Role)
	}
}

func TestBuildDoesNotDuplicateTrailingUserTurn(t *testing.T) {
	history := []storage.Message{
		human("u1", "hello"),
		assistant("hi, how can I help?"),
		human("u1", "tell me a joke"),
	}
	got := Build(history, "u1", "tell me a joke", DefaultWindow)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(got), got)
	}
	if got[2] != (providers.Message{Role: providers.RoleUser, Content: "tell me a joke"}) {
		t.Fatalf("unexpected tail %+v", got[2])
	}
}

func TestBuildAppendsAfterAssistantTurn(t *testing.T) {
	history := []storage.Message{human("u1", "hello"), assistant("hey")}
	got := Build(history, "u1", "again", DefaultWindow)
	if len(got) != 3 || got[2].Role != providers.RoleUser || got[2].Content != "again" {
		t.Fatalf("expected appended user turn, got %+v", got)
	}
}

func TestBuildLabelsOtherHumansAsAssistant(t *testing.T) {
	history := []storage.Message{human("u2", "I'm someone else")}
	got := Build(history, "u1", "me", DefaultWindow)
	if got[0].Role != providers.RoleAssistant {
		t.Fatalf("expected other sender labelled assistant, got %q", got[0].Role)
	}
	if len(got) != 2 || got[1].Content != "me" {
		t.Fatalf("unexpected messages %+v", got)
	}
}
