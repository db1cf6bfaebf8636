package app

import "errors"

var (
	// ErrSessionNotFound is returned by lookups that require an existing session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConversationBusy means the conversation already has a live exchange.
	// Recoverable: the caller should retry after the current turn ends.
	ErrConversationBusy = errors.New("conversation already streaming")

	// ErrTooManyStreams means the global live-exchange cap has been reached.
	ErrTooManyStreams = errors.New("too many concurrent streams")

	// ErrEngineClosed is returned by StartStream after Shutdown.
	ErrEngineClosed = errors.New("streaming engine is shut down")
)
