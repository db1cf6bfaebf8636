package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "convo.db"), 100)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedMessages(t *testing.T, store *SessionStore, sessionID string, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg, err := store.AddMessage(sessionID, role, fmt.Sprintf("Message %d", i))
		if err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
		out = append(out, *msg)
	}
	return out
}

func TestSessionCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.CreateSession("", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected session id")
	}
	if sess.Title != PlaceholderTitle {
		t.Fatalf("expected placeholder title, got %q", sess.Title)
	}

	loaded, err := store.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if loaded == nil || loaded.ID != sess.ID {
		t.Fatalf("session round trip mismatch: %#v", loaded)
	}

	missing, err := store.GetSession("no-such-id")
	if err != nil {
		t.Fatalf("get missing session: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing session, got %#v", missing)
	}
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	store := newTestStore(t)

	first, err := store.CreateSession("first", "", "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.CreateSession("second", "", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Activity on the older session should float it to the top.
	if _, err := store.AddMessage(first.ID, RoleUser, "bump"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Fatalf("wrong order: got %s then %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestAddMessageRejectsUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AddMessage("no-such-session", RoleUser, "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAddMessageBumpsSessionUpdatedAt(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.CreateSession("t", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	before, _ := store.GetSession(sess.ID)

	if _, err := store.AddMessage(sess.ID, RoleUser, "hello there"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	after, _ := store.GetSession(sess.ID)
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestFirstUserMessageNamesSession(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.CreateSession("", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "How do goroutines work?"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	loaded, _ := store.GetSession(sess.ID)
	if loaded.Title != "How do goroutines work?" {
		t.Fatalf("expected generated title, got %q", loaded.Title)
	}

	// A second user message must not rename the session.
	if _, err := store.AddMessage(sess.ID, RoleUser, "Another question entirely"); err != nil {
		t.Fatalf("add message: %v", err)
	}
	loaded, _ = store.GetSession(sess.ID)
	if loaded.Title != "How do goroutines work?" {
		t.Fatalf("title changed on second message: %q", loaded.Title)
	}
}

func TestExplicitTitleIsNotOverwritten(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.CreateSession("My project notes", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hello"); err != nil {
		t.Fatalf("add message: %v", err)
	}
	loaded, _ := store.GetSession(sess.ID)
	if loaded.Title != "My project notes" {
		t.Fatalf("explicit title overwritten: %q", loaded.Title)
	}
}

func TestMessageTimestampsStrictlyIncrease(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.CreateSession("t", "", "")
	msgs := seedMessages(t, store, sess.ID, 20)

	for i := 1; i < len(msgs); i++ {
		if !msgs[i].CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Fatalf("timestamp %d not after %d: %v vs %v",
				i, i-1, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
}

func TestForwardPagination(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seedMessages(t, store, sess.ID, 10)

	var got []string
	var cursor *Cursor
	pages := 0
	for {
		msgs, next, err := store.GetMessagesPaginated(sess.ID, 3, cursor, Forward)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, m := range msgs {
			got = append(got, m.Content)
		}
		pages++
		if next == nil {
			break
		}
		cursor = next
	}

	if pages != 4 {
		t.Fatalf("expected 4 pages, got %d", pages)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
	for i, content := range got {
		if want := fmt.Sprintf("Message %d", i); content != want {
			t.Fatalf("position %d: got %q want %q", i, content, want)
		}
	}
}

func TestBackwardPagination(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seedMessages(t, store, sess.ID, 10)

	// First page is the newest three, still in chronological order.
	msgs, cursor, err := store.GetMessagesPaginated(sess.ID, 3, nil, Backward)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"Message 7", "Message 8", "Message 9"} {
		if msgs[i].Content != want {
			t.Fatalf("position %d: got %q want %q", i, msgs[i].Content, want)
		}
	}
	if cursor == nil {
		t.Fatalf("expected a cursor for the next page")
	}

	msgs, _, err = store.GetMessagesPaginated(sess.ID, 3, cursor, Backward)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	for i, want := range []string{"Message 4", "Message 5", "Message 6"} {
		if msgs[i].Content != want {
			t.Fatalf("position %d: got %q want %q", i, msgs[i].Content, want)
		}
	}
}

func TestBackwardPaginationWalksToStart(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seedMessages(t, store, sess.ID, 10)

	var got []string
	var cursor *Cursor
	for {
		msgs, next, err := store.GetMessagesPaginated(sess.ID, 4, cursor, Backward)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		page := make([]string, 0, len(msgs))
		for _, m := range msgs {
			page = append(page, m.Content)
		}
		got = append(page, got...)
		if next == nil {
			break
		}
		cursor = next
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
	if got[0] != "Message 0" || got[9] != "Message 9" {
		t.Fatalf("wrong bounds: %q .. %q", got[0], got[9])
	}
}

func TestPaginationEmptySession(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")

	msgs, cursor, err := store.GetMessagesPaginated(sess.ID, 5, nil, Forward)
	if err != nil {
		t.Fatalf("paginate empty: %v", err)
	}
	if len(msgs) != 0 || cursor != nil {
		t.Fatalf("expected empty page and nil cursor, got %d msgs, cursor %v", len(msgs), cursor)
	}
}

func TestExactPageBoundaryReturnsEmptyFinalPage(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seedMessages(t, store, sess.ID, 6)

	_, cursor, err := store.GetMessagesPaginated(sess.ID, 3, nil, Forward)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	msgs, cursor, err := store.GetMessagesPaginated(sess.ID, 3, cursor, Forward)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(msgs) != 3 || cursor == nil {
		t.Fatalf("page 2: got %d msgs, cursor %v", len(msgs), cursor)
	}
	// Total count is a multiple of the page size, so the final fetch is empty.
	msgs, cursor, err = store.GetMessagesPaginated(sess.ID, 3, cursor, Forward)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(msgs) != 0 || cursor != nil {
		t.Fatalf("expected empty terminal page, got %d msgs, cursor %v", len(msgs), cursor)
	}
}

func TestGetMessagesAfter(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seeded := seedMessages(t, store, sess.ID, 5)

	msgs, err := store.GetMessagesAfter(sess.ID, seeded[1].ID, 50)
	if err != nil {
		t.Fatalf("messages after: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "Message 2" {
		t.Fatalf("wrong first message: %q", msgs[0].Content)
	}

	msgs, err = store.GetMessagesAfter(sess.ID, "no-such-message", 50)
	if err != nil {
		t.Fatalf("unknown reference: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected nil for unknown reference, got %d", len(msgs))
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	seeded := seedMessages(t, store, sess.ID, 4)
	if err := store.SaveSummary(&ConversationSummary{
		SessionID:               sess.ID,
		KeyFacts:                map[string]string{"name": "Ada"},
		MainTopics:              []string{"history"},
		RecentContext:           "talked about Ada",
		LastSummarizedMessageID: seeded[3].ID,
	}); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	deleted, err := store.DeleteSession(sess.ID)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}

	if n, _ := store.CountMessages(sess.ID); n != 0 {
		t.Fatalf("messages not cascaded: %d left", n)
	}
	sum, err := store.GetSummary(sess.ID)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if sum != nil {
		t.Fatalf("summary not cascaded")
	}

	// Second delete of the same id reports false, not an error.
	deleted, err = store.DeleteSession(sess.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatalf("second delete reported true")
	}
}

func TestDeleteFolderReparents(t *testing.T) {
	store := newTestStore(t)

	parent, err := store.CreateFolder("work", "")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	child, err := store.CreateFolder("projects", parent.ID)
	if err != nil {
		t.Fatalf("create child folder: %v", err)
	}
	sess, _ := store.CreateSession("t", parent.ID, "")

	deleted, err := store.DeleteFolder(parent.ID)
	if err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}

	folders, err := store.ListFolders()
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 || folders[0].ID != child.ID {
		t.Fatalf("child folder missing after reparent: %#v", folders)
	}
	if folders[0].ParentFolderID != "" {
		t.Fatalf("child not moved to root: %q", folders[0].ParentFolderID)
	}

	loaded, _ := store.GetSession(sess.ID)
	if loaded == nil {
		t.Fatalf("session deleted with folder")
	}
	if loaded.FolderID != "" {
		t.Fatalf("session not moved to root: %q", loaded.FolderID)
	}

	deleted, err = store.DeleteFolder(parent.ID)
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
}

func TestSummaryUpsertReplacesRow(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")

	if err := store.SaveSummary(&ConversationSummary{
		SessionID:               sess.ID,
		KeyFacts:                map[string]string{"lang": "Go"},
		MainTopics:              []string{"code"},
		RecentContext:           "first pass",
		LastSummarizedMessageID: "m1",
	}); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	if err := store.SaveSummary(&ConversationSummary{
		SessionID:               sess.ID,
		KeyFacts:                map[string]string{"lang": "Go", "editor": "vim"},
		MainTopics:              []string{"code", "tooling"},
		RecentContext:           "second pass",
		LastSummarizedMessageID: "m2",
	}); err != nil {
		t.Fatalf("save summary again: %v", err)
	}

	sum, err := store.GetSummary(sess.ID)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if sum.RecentContext != "second pass" || sum.LastSummarizedMessageID != "m2" {
		t.Fatalf("summary not replaced: %#v", sum)
	}
	if sum.KeyFacts["editor"] != "vim" {
		t.Fatalf("facts not replaced: %#v", sum.KeyFacts)
	}

	none, err := store.GetSummary("no-such-session")
	if err != nil {
		t.Fatalf("get missing summary: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for missing summary")
	}
}

func TestMoveAndStarSession(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.CreateSession("t", "", "")
	folder, _ := store.CreateFolder("archive", "")

	if err := store.MoveSessionToFolder(sess.ID, folder.ID); err != nil {
		t.Fatalf("move session: %v", err)
	}
	if err := store.SetSessionStarred(sess.ID, true); err != nil {
		t.Fatalf("star session: %v", err)
	}

	loaded, _ := store.GetSession(sess.ID)
	if loaded.FolderID != folder.ID {
		t.Fatalf("folder not set: %q", loaded.FolderID)
	}
	if !loaded.IsStarred {
		t.Fatalf("star not set")
	}

	if err := store.MoveSessionToFolder(sess.ID, ""); err != nil {
		t.Fatalf("move to root: %v", err)
	}
	loaded, _ = store.GetSession(sess.ID)
	if loaded.FolderID != "" {
		t.Fatalf("folder not cleared: %q", loaded.FolderID)
	}
}
