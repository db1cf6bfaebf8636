package app

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// PlaceholderTitle is assigned to freshly created sessions until the first
// user message produces a real title.
const PlaceholderTitle = "New Chat"

type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	DirectiveID string    `json:"directive_id,omitempty"`
	FolderID    string    `json:"folder_id,omitempty"`
	IsStarred   bool      `json:"is_starred,omitempty"`
	SortOrder   int       `json:"sort_order,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user|assistant|system
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Folder struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParentFolderID string    `json:"parent_folder_id,omitempty"`
	Color          string    `json:"color,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	SortOrder      int       `json:"sort_order,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConversationSummary is the rolling structured summary kept per session.
// LastSummarizedMessageID is a high-water mark: messages at or before it are
// already folded into the summary and are never re-summarized.
type ConversationSummary struct {
	SessionID               string            `json:"session_id"`
	KeyFacts                map[string]string `json:"key_facts"`
	MainTopics              []string          `json:"main_topics"`
	RecentContext           string            `json:"recent_context"`
	LastSummarizedMessageID string            `json:"last_summarized_message_id"`
	CreatedAt               time.Time         `json:"created_at"`
}

// PaginationDirection selects which end of a session's history a page is
// taken from. Output order is always chronological regardless of direction.
type PaginationDirection int

const (
	Forward PaginationDirection = iota
	Backward
)

// Cursor is an opaque pagination boundary. Callers pass it back verbatim to
// continue a traversal; a nil cursor on return signals exhaustion.
type Cursor struct {
	ts int64 // created_at_ns boundary, exclusive
}
