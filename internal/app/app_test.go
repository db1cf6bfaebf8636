package app

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewApplicationMockMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "convo.db")

	application, err := NewApplication(cfg, io.Discard, true)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Close()

	if _, ok := application.Provider.(*MockProvider); !ok {
		t.Fatalf("expected mock provider, got %T", application.Provider)
	}
}

func TestApplicationAskRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "convo.db")
	cfg.SummarizeThreshold = 0

	application, err := NewApplication(cfg, io.Discard, true)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Close()
	application.Provider.(*MockProvider).Tokens = []string{"forty", "-", "two"}

	sess, err := application.Store.CreateSession("", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	answer, err := application.Ask(context.Background(), sess.ID, "what is the answer?", nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "forty-two" {
		t.Fatalf("answer: %q", answer)
	}
	// Join the turn goroutine so the assistant persist has landed.
	application.Engine.Shutdown()

	msgs, _, err := application.Store.GetMessagesPaginated(sess.ID, 10, nil, Forward)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "forty-two" {
		t.Fatalf("persisted turn wrong: %#v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "what is the answer?") {
		t.Fatalf("user message wrong: %q", msgs[0].Content)
	}
}
