package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SessionStore is the single source of truth for persisted conversation
// state: sessions, messages, folders and rolling summaries. All multi-row
// mutations run inside one transaction.
type SessionStore struct {
	dbPath   string
	titleMax int

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error

	logger *Logger
}

func NewSessionStore(dbPath string, titleMax int) (*SessionStore, error) {
	dbPath = filepath.Clean(strings.TrimSpace(dbPath))
	if dbPath == "" || dbPath == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if titleMax <= 0 {
		titleMax = 100
	}
	st := &SessionStore{dbPath: dbPath, titleMax: titleMax}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

// SetLogger installs a sink for best-effort warnings. Optional.
func (s *SessionStore) SetLogger(l *Logger) { s.logger = l }

func (s *SessionStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT,
				directive_id TEXT,
				folder_id TEXT,
				is_starred INTEGER NOT NULL DEFAULT 0,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_ns);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_folder ON sessions(folder_id);`,
			`CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at_ns);`,
			`CREATE TABLE IF NOT EXISTS folders (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				parent_folder_id TEXT,
				color TEXT,
				icon TEXT,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_folder_id);`,
			`CREATE TABLE IF NOT EXISTS summaries (
				session_id TEXT PRIMARY KEY,
				key_facts TEXT NOT NULL,
				main_topics TEXT NOT NULL,
				recent_context TEXT NOT NULL,
				last_summarized_message_id TEXT NOT NULL,
				created_at_ns INTEGER NOT NULL
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *SessionStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ─── Sessions ────────────────────────────────────────────────────────────────

func (s *SessionStore) CreateSession(title, folderID, directiveID string) (*Session, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(title),
		FolderID:    strings.TrimSpace(folderID),
		DirectiveID: strings.TrimSpace(directiveID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sess.Title == "" {
		sess.Title = PlaceholderTitle
	}
	_, err = db.Exec(
		`INSERT INTO sessions(id, title, directive_id, folder_id, is_starred, sort_order, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, ?, 0, 0, ?, ?)`,
		sess.ID, sess.Title, nullIfEmpty(sess.DirectiveID), nullIfEmpty(sess.FolderID), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) GetSession(id string) (*Session, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(
		`SELECT id, title, directive_id, folder_id, is_starred, sort_order, created_at_ns, updated_at_ns
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) ListSessions() ([]Session, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, title, directive_id, folder_id, is_starred, sort_order, created_at_ns, updated_at_ns
		 FROM sessions ORDER BY updated_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) UpdateSessionTitle(id, title string) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE sessions SET title = ?, updated_at_ns = ? WHERE id = ?`,
		strings.TrimSpace(title), time.Now().UnixNano(), id)
	return err
}

func (s *SessionStore) SetSessionStarred(id string, starred bool) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	v := 0
	if starred {
		v = 1
	}
	_, err = db.Exec(`UPDATE sessions SET is_starred = ?, updated_at_ns = ? WHERE id = ?`,
		v, time.Now().UnixNano(), id)
	return err
}

func (s *SessionStore) MoveSessionToFolder(id, folderID string) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE sessions SET folder_id = ?, updated_at_ns = ? WHERE id = ?`,
		nullIfEmpty(strings.TrimSpace(folderID)), time.Now().UnixNano(), id)
	return err
}

// DeleteSession removes the session, its messages and its summary in one
// transaction. Returns false with no side effects when the session does not
// exist.
func (s *SessionStore) DeleteSession(id string) (bool, error) {
	db, err := s.dbConn()
	if err != nil {
		return false, err
	}
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if exists == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM summaries WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete summary: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete session row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete session: %w", err)
	}
	return true, nil
}

// ─── Messages ────────────────────────────────────────────────────────────────

// AddMessage inserts the message and bumps the owning session's updated_at in
// a single transaction; if either write fails, neither is committed.
//
// Message timestamps are kept strictly increasing per session, bumping past
// the previous message when the clock has not advanced, so the timestamp
// cursor in GetMessagesPaginated is an exact boundary.
func (s *SessionStore) AddMessage(sessionID, role, content string) (*Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRow(`SELECT title FROM sessions WHERE id = ?`, sessionID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	now := time.Now()
	ns := now.UnixNano()
	var lastNS sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(created_at_ns) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&lastNS); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	if lastNS.Valid && ns <= lastNS.Int64 {
		ns = lastNS.Int64 + 1
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      strings.TrimSpace(role),
		Content:   content,
		CreatedAt: time.Unix(0, ns),
	}
	if _, err := tx.Exec(
		`INSERT INTO messages(id, session_id, role, content, created_at_ns) VALUES(?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, ns,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET updated_at_ns = ? WHERE id = ?`, now.UnixNano(), sessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	// First user message into a placeholder-titled session names it.
	if msg.Role == RoleUser && (title == "" || title == PlaceholderTitle) {
		var userCount int
		if err := tx.QueryRow(
			`SELECT COUNT(1) FROM messages WHERE session_id = ? AND role = ?`, sessionID, RoleUser,
		).Scan(&userCount); err != nil {
			return nil, fmt.Errorf("count user messages: %w", err)
		}
		if userCount == 1 {
			if t := GenerateTitle(content, s.titleMax); t != "" {
				if _, err := tx.Exec(
					`UPDATE sessions SET title = ? WHERE id = ?`, t, sessionID,
				); err != nil {
					return nil, fmt.Errorf("set generated title: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add message: %w", err)
	}
	return msg, nil
}

func (s *SessionStore) CountMessages(sessionID string) (int, error) {
	db, err := s.dbConn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRow(`SELECT COUNT(1) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// GetMessagesPaginated returns one page of a session's history. Output is
// always in chronological order regardless of direction; the returned cursor
// is the boundary to pass on the next call in the same direction, nil exactly
// when fewer than limit messages were available.
func (s *SessionStore) GetMessagesPaginated(sessionID string, limit int, cursor *Cursor, dir PaginationDirection) ([]Message, *Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, nil, err
	}

	var (
		query string
		args  []any
	)
	switch dir {
	case Forward:
		if cursor == nil {
			query = `SELECT id, session_id, role, content, created_at_ns FROM messages
				 WHERE session_id = ? ORDER BY created_at_ns ASC, seq ASC LIMIT ?`
			args = []any{sessionID, limit}
		} else {
			query = `SELECT id, session_id, role, content, created_at_ns FROM messages
				 WHERE session_id = ? AND created_at_ns > ? ORDER BY created_at_ns ASC, seq ASC LIMIT ?`
			args = []any{sessionID, cursor.ts, limit}
		}
	case Backward:
		if cursor == nil {
			query = `SELECT id, session_id, role, content, created_at_ns FROM messages
				 WHERE session_id = ? ORDER BY created_at_ns DESC, seq DESC LIMIT ?`
			args = []any{sessionID, limit}
		} else {
			query = `SELECT id, session_id, role, content, created_at_ns FROM messages
				 WHERE session_id = ? AND created_at_ns < ? ORDER BY created_at_ns DESC, seq DESC LIMIT ?`
			args = []any{sessionID, cursor.ts, limit}
		}
	default:
		return nil, nil, fmt.Errorf("unknown pagination direction %d", dir)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("paginate messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if dir == Backward {
		reverseMessages(msgs)
	}
	if len(msgs) < limit {
		return msgs, nil, nil
	}
	var next Cursor
	if dir == Forward {
		next.ts = msgs[len(msgs)-1].CreatedAt.UnixNano()
	} else {
		next.ts = msgs[0].CreatedAt.UnixNano()
	}
	return msgs, &next, nil
}

// GetMessagesAfter returns up to limit messages strictly newer than the
// referenced message, ascending. An unknown reference yields an empty result.
func (s *SessionStore) GetMessagesAfter(sessionID, afterMessageID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	var afterNS int64
	err = db.QueryRow(
		`SELECT created_at_ns FROM messages WHERE session_id = ? AND id = ?`,
		sessionID, afterMessageID,
	).Scan(&afterNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve after message: %w", err)
	}
	rows, err := db.Query(
		`SELECT id, session_id, role, content, created_at_ns FROM messages
		 WHERE session_id = ? AND created_at_ns > ? ORDER BY created_at_ns ASC, seq ASC LIMIT ?`,
		sessionID, afterNS, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messages after: %w", err)
	}
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ─── Folders ─────────────────────────────────────────────────────────────────

func (s *SessionStore) CreateFolder(name, parentFolderID string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("missing folder name")
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	f := &Folder{
		ID:             uuid.NewString(),
		Name:           name,
		ParentFolderID: strings.TrimSpace(parentFolderID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = db.Exec(
		`INSERT INTO folders(id, name, parent_folder_id, color, icon, sort_order, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, NULL, NULL, 0, ?, ?)`,
		f.ID, f.Name, nullIfEmpty(f.ParentFolderID), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return f, nil
}

func (s *SessionStore) ListFolders() ([]Folder, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, name, parent_folder_id, color, icon, sort_order, created_at_ns, updated_at_ns
		 FROM folders ORDER BY sort_order ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()
	var out []Folder
	for rows.Next() {
		var f Folder
		var parent, color, icon sql.NullString
		var createdNS, updatedNS int64
		if err := rows.Scan(&f.ID, &f.Name, &parent, &color, &icon, &f.SortOrder, &createdNS, &updatedNS); err != nil {
			return nil, err
		}
		f.ParentFolderID = parent.String
		f.Color = color.String
		f.Icon = icon.String
		f.CreatedAt = time.Unix(0, createdNS)
		f.UpdatedAt = time.Unix(0, updatedNS)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFolder reparents the folder's direct children and sessions to the
// root, then deletes the folder row, all in one transaction. Child folders
// and sessions are never deleted.
func (s *SessionStore) DeleteFolder(id string) (bool, error) {
	db, err := s.dbConn()
	if err != nil {
		return false, err
	}
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin delete folder: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM folders WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("delete folder: %w", err)
	}
	if exists == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE folders SET parent_folder_id = NULL WHERE parent_folder_id = ?`, id); err != nil {
		return false, fmt.Errorf("reparent child folders: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET folder_id = NULL WHERE folder_id = ?`, id); err != nil {
		return false, fmt.Errorf("reparent sessions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM folders WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete folder row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete folder: %w", err)
	}
	return true, nil
}

// ─── Summaries ───────────────────────────────────────────────────────────────

// SaveSummary upserts the session's rolling summary (one row per session).
func (s *SessionStore) SaveSummary(sum *ConversationSummary) error {
	if sum == nil || strings.TrimSpace(sum.SessionID) == "" {
		return errors.New("missing summary sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	facts := sum.KeyFacts
	if facts == nil {
		facts = map[string]string{}
	}
	topics := sum.MainTopics
	if topics == nil {
		topics = []string{}
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal key facts: %w", err)
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	_, err = db.Exec(
		`INSERT INTO summaries(session_id, key_facts, main_topics, recent_context, last_summarized_message_id, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			key_facts=excluded.key_facts,
			main_topics=excluded.main_topics,
			recent_context=excluded.recent_context,
			last_summarized_message_id=excluded.last_summarized_message_id,
			created_at_ns=excluded.created_at_ns`,
		sum.SessionID, string(factsJSON), string(topicsJSON), sum.RecentContext,
		sum.LastSummarizedMessageID, sum.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSummary(sessionID string) (*ConversationSummary, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	var (
		sum        ConversationSummary
		factsJSON  string
		topicsJSON string
		createdNS  int64
	)
	err = db.QueryRow(
		`SELECT session_id, key_facts, main_topics, recent_context, last_summarized_message_id, created_at_ns
		 FROM summaries WHERE session_id = ?`, sessionID,
	).Scan(&sum.SessionID, &factsJSON, &topicsJSON, &sum.RecentContext, &sum.LastSummarizedMessageID, &createdNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	if err := json.Unmarshal([]byte(factsJSON), &sum.KeyFacts); err != nil {
		return nil, fmt.Errorf("decode key facts: %w", err)
	}
	if err := json.Unmarshal([]byte(topicsJSON), &sum.MainTopics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	sum.CreatedAt = time.Unix(0, createdNS)
	return &sum, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var directive, folder sql.NullString
	var starred int
	var createdNS, updatedNS int64
	if err := r.Scan(&sess.ID, &sess.Title, &directive, &folder, &starred, &sess.SortOrder, &createdNS, &updatedNS); err != nil {
		return nil, err
	}
	sess.DirectiveID = directive.String
	sess.FolderID = folder.String
	sess.IsStarred = starred != 0
	sess.CreatedAt = time.Unix(0, createdNS)
	sess.UpdatedAt = time.Unix(0, updatedNS)
	return &sess, nil
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var createdNS int64
	if err := r.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdNS); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(0, createdNS)
	return &m, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
