package app

import "sync"

// Exchange is one in-flight question/answer turn. It lives only until the
// turn reaches a terminal state; the engine then deregisters it and the
// buffer is garbage. Appends and reads are serialized by mu so observers
// always see a monotonically growing prefix of the buffer.
type Exchange struct {
	ThreadID string
	ChatID   string

	mu        sync.Mutex
	chunks    []string
	size      int
	complete  bool
	failed    bool
	cancelled bool
	observers []func(string)
	done      chan struct{}
}

func newExchange(threadID, chatID string) *Exchange {
	return &Exchange{ThreadID: threadID, ChatID: chatID, done: make(chan struct{})}
}

// Done is closed when the exchange reaches a terminal state.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// append adds a token and notifies observers with the cumulative text.
// Returns false once the exchange is terminal; late provider callbacks are
// dropped rather than growing a dead buffer.
func (e *Exchange) append(token string) bool {
	e.mu.Lock()
	if e.terminalLocked() {
		e.mu.Unlock()
		return false
	}
	e.chunks = append(e.chunks, token)
	e.size += len(token)
	text := e.textLocked()
	observers := make([]func(string), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(text)
	}
	return true
}

// Subscribe registers an observer for future appends and immediately hands
// it the current buffer, so reattaching after a reconnect misses nothing.
func (e *Exchange) Subscribe(fn func(string)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	text := e.textLocked()
	e.mu.Unlock()
	if text != "" {
		fn(text)
	}
}

func (e *Exchange) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textLocked()
}

func (e *Exchange) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

func (e *Exchange) HasFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

func (e *Exchange) IsCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Exchange) markComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminalLocked() {
		e.complete = true
		close(e.done)
	}
}

func (e *Exchange) markFailed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminalLocked() {
		e.failed = true
		close(e.done)
	}
}

// markCancelled flags the exchange terminal and discards the buffer; a
// cancelled turn persists nothing.
func (e *Exchange) markCancelled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalLocked() {
		return
	}
	e.cancelled = true
	e.chunks = nil
	e.size = 0
	close(e.done)
}

func (e *Exchange) terminalLocked() bool {
	return e.complete || e.failed || e.cancelled
}

func (e *Exchange) textLocked() string {
	if len(e.chunks) == 0 {
		return ""
	}
	if len(e.chunks) == 1 {
		return e.chunks[0]
	}
	buf := make([]byte, 0, e.size)
	for _, c := range e.chunks {
		buf = append(buf, c...)
	}
	return string(buf)
}
