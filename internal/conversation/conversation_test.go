package conversation

import (
	"testing"

	"github.com/convoke-ai/convoke/pkg/types"
)

func TestConversation_Append(t *testing.T) {
	s := NewStore()
	c := s.Create()

	c.Append(
		types.Message{Role: types.RoleUser, Content: "hi"},
		types.Message{Role: types.RoleAssistant, Content: "hello"},
	)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	msgs := c.Messages()
	if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	// Mutating the returned slice must not affect the conversation.
	msgs[0].Content = "tampered"
	if got := c.Messages()[0].Content; got != "hi" {
		t.Errorf("message content = %q after external mutation, want %q", got, "hi")
	}
}

func TestConversation_Recent(t *testing.T) {
	s := NewStore()
	c := s.Create()
	for _, content := range []string{"a", "b", "c", "d"} {
		c.Append(types.Message{Role: types.RoleUser, Content: content})
	}

	recent := c.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d messages, want 2", len(recent))
	}
	if recent[0].Content != "c" || recent[1].Content != "d" {
		t.Errorf("Recent(2) = %q, %q, want c, d", recent[0].Content, recent[1].Content)
	}

	if got := c.Recent(10); len(got) != 4 {
		t.Errorf("Recent(10) returned %d messages, want 4", len(got))
	}
	if got := c.Recent(0); len(got) != 4 {
		t.Errorf("Recent(0) returned %d messages, want full log of 4", len(got))
	}
}

func TestConversation_ModelAndProvider(t *testing.T) {
	s := NewStore()
	c := s.Create()

	c.SetModel("openai", "gpt-4o")
	if c.Provider() != "openai" || c.Model() != "gpt-4o" {
		t.Errorf("provider/model = %q/%q, want openai/gpt-4o", c.Provider(), c.Model())
	}
}

func TestConversation_Processing(t *testing.T) {
	s := NewStore()
	c := s.Create()

	if c.Processing() {
		t.Error("new conversation reports processing")
	}
	if !c.SetProcessing(true) {
		t.Fatal("SetProcessing(true) on idle conversation returned false")
	}
	if c.SetProcessing(true) {
		t.Error("SetProcessing(true) on busy conversation returned true")
	}
	if !c.Processing() {
		t.Error("conversation not processing after SetProcessing(true)")
	}
	c.SetProcessing(false)
	if c.Processing() {
		t.Error("conversation still processing after SetProcessing(false)")
	}
}
