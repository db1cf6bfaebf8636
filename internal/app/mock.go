package app

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MockProvider simulates a model provider for tests and offline use. Tokens
// are scripted; an optional gate holds the stream open so callers can
// exercise in-flight behavior, and FailAfter injects a mid-stream error.
type MockProvider struct {
	Tokens    []string
	Response  string // used by Complete; falls back to joined Tokens
	Err       error  // returned by Complete when set
	FailAfter int    // fail the stream after this many tokens (0 = never)

	// Gate, when non-nil, is received from between tokens; close it (or feed
	// it) to let the stream proceed. Lets tests hold a stream mid-flight.
	Gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return strings.Join(m.Tokens, ""), nil
}

func (m *MockProvider) StreamCompletion(ctx context.Context, prompt string, onToken func(string)) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	var full strings.Builder
	for i, tok := range m.Tokens {
		if m.Gate != nil {
			select {
			case <-m.Gate:
			case <-ctx.Done():
				return full.String(), ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		if m.FailAfter > 0 && i >= m.FailAfter {
			return full.String(), errors.New("mock provider failure")
		}
		full.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	return full.String(), nil
}
