package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/semaphore"
)

// failureMarker annotates partial assistant output persisted after a
// provider failure, so a broken turn never silently truncates the record.
const failureMarker = "[response interrupted: %s]"

// StreamingEngine runs one provider call per user turn, enforcing
// single-flight per conversation and a global cap on live exchanges.
//
// The registry (byThread/byChat under mu) is the only shared mutable state
// besides the store; register and deregister are atomic with respect to
// concurrent StartStream/StopStream/completion callbacks.
type StreamingEngine struct {
	store    *SessionStore
	contexts *ContextManager
	provider Provider
	logger   *Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	byThread map[string]*Exchange
	byChat   map[string]string
	cancels  map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

func NewStreamingEngine(store *SessionStore, contexts *ContextManager, provider Provider, cfg Config, logger *Logger) *StreamingEngine {
	limit := cfg.MaxConcurrentStreams
	if limit <= 0 {
		limit = 8
	}
	return &StreamingEngine{
		store:    store,
		contexts: contexts,
		provider: provider,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(limit)),
		byThread: map[string]*Exchange{},
		byChat:   map[string]string{},
		cancels:  map[string]context.CancelFunc{},
	}
}

// StartStream begins one question/answer turn for the conversation. It
// rejects with ErrConversationBusy or ErrTooManyStreams without side
// effects, persists the user message synchronously (so context survives a
// provider failure), then streams the answer on its own goroutine. onChunk
// receives the cumulative buffered text after every token.
func (en *StreamingEngine) StartStream(ctx context.Context, chatID, userMessage string, onChunk func(string)) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", errors.New("missing chatID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	en.mu.Lock()
	if en.closed {
		en.mu.Unlock()
		return "", ErrEngineClosed
	}
	if _, busy := en.byChat[chatID]; busy {
		en.mu.Unlock()
		return "", ErrConversationBusy
	}
	if !en.sem.TryAcquire(1) {
		en.mu.Unlock()
		return "", ErrTooManyStreams
	}
	threadID := shortuuid.New()
	ex := newExchange(threadID, chatID)
	if onChunk != nil {
		ex.Subscribe(onChunk)
	}
	turnCtx, cancel := context.WithCancel(ctx)
	en.byThread[threadID] = ex
	en.byChat[chatID] = threadID
	en.cancels[threadID] = cancel
	en.mu.Unlock()

	// The user message is persisted before the provider is involved; if this
	// fails the turn never starts and the caller sees the storage error.
	if _, err := en.store.AddMessage(chatID, RoleUser, userMessage); err != nil {
		cancel()
		en.deregister(threadID)
		return "", fmt.Errorf("persist user message: %w", err)
	}

	en.wg.Add(1)
	go en.runTurn(turnCtx, ex)

	return threadID, nil
}

func (en *StreamingEngine) runTurn(ctx context.Context, ex *Exchange) {
	defer en.wg.Done()
	// Deregistration runs on every exit path: completion, failure and
	// cancellation alike.
	defer en.deregister(ex.ThreadID)

	prompt, err := en.buildPrompt(ex.ChatID)
	if err != nil {
		ex.markFailed()
		en.persistFailed(ex, err)
		return
	}

	_, err = en.provider.StreamCompletion(ctx, prompt, func(token string) {
		ex.append(token)
	})

	switch {
	case ex.IsCancelled() || errors.Is(err, context.Canceled):
		// Cancelled turns persist no assistant message; the user message
		// saved at start remains.
		ex.markCancelled()
	case err != nil:
		ex.markFailed()
		en.persistFailed(ex, err)
	default:
		text := ex.Text()
		ex.markComplete()
		if _, err := en.store.AddMessage(ex.ChatID, RoleAssistant, text); err != nil {
			en.logger.Error("persist assistant message failed", map[string]interface{}{
				"chat": ex.ChatID, "thread": ex.ThreadID, "error": err.Error(),
			})
			return
		}
		if err := en.contexts.MaybeSummarize(ctx, ex.ChatID); err != nil {
			en.logger.Warn("summarization pass failed", map[string]interface{}{
				"chat": ex.ChatID, "error": err.Error(),
			})
		}
	}
}

// persistFailed saves whatever was buffered plus a failure marker.
// Best-effort: a second storage failure is logged, not propagated.
func (en *StreamingEngine) persistFailed(ex *Exchange, cause error) {
	partial := ex.Text()
	content := fmt.Sprintf(failureMarker, cause)
	if partial != "" {
		content = partial + "\n\n" + content
	}
	if _, err := en.store.AddMessage(ex.ChatID, RoleAssistant, content); err != nil {
		en.logger.Error("persist partial output failed", map[string]interface{}{
			"chat": ex.ChatID, "thread": ex.ThreadID, "error": err.Error(),
		})
	}
}

func (en *StreamingEngine) buildPrompt(chatID string) (string, error) {
	msgs, err := en.contexts.GetContextForSession(chatID)
	if err != nil {
		return "", fmt.Errorf("assemble context: %w", err)
	}
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", strings.ToUpper(m.Role), m.Content)
	}
	sb.WriteString("[ASSISTANT]\n")
	return sb.String(), nil
}

// GetActiveThread returns the live exchange for a threadID, or nil once the
// exchange has reached a terminal state and been deregistered.
func (en *StreamingEngine) GetActiveThread(threadID string) *Exchange {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.byThread[threadID]
}

// GetActiveThreadForChat returns the conversation's live exchange, if any.
func (en *StreamingEngine) GetActiveThreadForChat(chatID string) *Exchange {
	en.mu.Lock()
	defer en.mu.Unlock()
	id, ok := en.byChat[chatID]
	if !ok {
		return nil
	}
	return en.byThread[id]
}

// ActiveCount reports the number of live exchanges.
func (en *StreamingEngine) ActiveCount() int {
	en.mu.Lock()
	defer en.mu.Unlock()
	return len(en.byThread)
}

// StopStream cancels the conversation's live exchange, if any, and
// deregisters it immediately. Cancellation is cooperative: the provider call
// is told to stop, and no assistant message is persisted for the turn.
func (en *StreamingEngine) StopStream(chatID string) bool {
	en.mu.Lock()
	threadID, ok := en.byChat[chatID]
	if !ok {
		en.mu.Unlock()
		return false
	}
	ex := en.byThread[threadID]
	cancel := en.cancels[threadID]
	en.mu.Unlock()

	ex.markCancelled()
	if cancel != nil {
		cancel()
	}
	en.deregister(threadID)
	return true
}

// Shutdown cancels every live exchange and clears the registries. Blocks
// until in-flight turn goroutines have observed cancellation and exited.
func (en *StreamingEngine) Shutdown() {
	en.mu.Lock()
	en.closed = true
	threads := make([]string, 0, len(en.byThread))
	for id := range en.byThread {
		threads = append(threads, id)
	}
	en.mu.Unlock()

	for _, id := range threads {
		en.mu.Lock()
		ex := en.byThread[id]
		cancel := en.cancels[id]
		en.mu.Unlock()
		if ex != nil {
			ex.markCancelled()
		}
		if cancel != nil {
			cancel()
		}
		en.deregister(id)
	}
	en.wg.Wait()
}

// deregister removes the exchange from the live set and releases its
// capacity slot. Idempotent: StopStream and the turn goroutine's deferred
// cleanup may both race to it.
func (en *StreamingEngine) deregister(threadID string) {
	en.mu.Lock()
	ex, ok := en.byThread[threadID]
	if ok {
		delete(en.byThread, threadID)
		if ex != nil && en.byChat[ex.ChatID] == threadID {
			delete(en.byChat, ex.ChatID)
		}
		if cancel := en.cancels[threadID]; cancel != nil {
			cancel()
		}
		delete(en.cancels, threadID)
	}
	en.mu.Unlock()
	if ok {
		en.sem.Release(1)
	}
}
