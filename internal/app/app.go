package app

import (
	"context"
	"io"
)

// Application wires the session engine together for the CLI and TUI.
type Application struct {
	Config   Config
	Logger   *Logger
	Store    *SessionStore
	Provider Provider
	Contexts *ContextManager
	Engine   *StreamingEngine
}

// NewApplication opens the store and builds the engine stack. mockMode swaps
// the HTTP provider for the scripted mock so the assistant works offline.
func NewApplication(cfg Config, logOut io.Writer, mockMode bool) (*Application, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	logger := NewLogger(logOut)

	store, err := NewSessionStore(dbPath, cfg.TitleMaxLen)
	if err != nil {
		return nil, err
	}
	store.SetLogger(logger)

	var provider Provider
	if mockMode {
		provider = &MockProvider{Tokens: []string{"This ", "is ", "a ", "mock ", "reply."}}
	} else {
		provider = NewOpenRouterClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
	}

	contexts := NewContextManager(store, provider, cfg, logger)
	engine := NewStreamingEngine(store, contexts, provider, cfg, logger)

	return &Application{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Provider: provider,
		Contexts: contexts,
		Engine:   engine,
	}, nil
}

// Ask runs one blocking turn: it starts a stream and waits for the terminal
// state, returning the final buffered text. Used by the line REPL.
func (a *Application) Ask(ctx context.Context, chatID, input string, onChunk func(string)) (string, error) {
	threadID, err := a.Engine.StartStream(ctx, chatID, input, onChunk)
	if err != nil {
		return "", err
	}
	ex := a.Engine.GetActiveThread(threadID)
	if ex == nil {
		// The turn already finished; the reply is in the store.
		msgs, _, err := a.Store.GetMessagesPaginated(chatID, 1, nil, Backward)
		if err != nil || len(msgs) == 0 {
			return "", err
		}
		return msgs[0].Content, nil
	}
	select {
	case <-ex.Done():
	case <-ctx.Done():
		a.Engine.StopStream(chatID)
		<-ex.Done()
	}
	return ex.Text(), nil
}

// Close tears the engine down: live streams are cancelled, then the store
// is closed.
func (a *Application) Close() error {
	a.Engine.Shutdown()
	return a.Store.Close()
}
