package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"convo/internal/app"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/bubbletea"
)

const historyPageSize = 50

// Message is one rendered chat entry.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

// Model is the chat TUI: a scrolling transcript on top of a textarea, with
// replies streamed in token by token.
type Model struct {
	app     *app.Application
	session *app.Session
	keys    keyMap

	messages []Message
	older    *app.Cursor
	hasOlder bool

	input  textarea.Model
	chatVP viewport.Model
	ready  bool
	width  int
	height int

	streaming  bool
	exchange   *app.Exchange
	chunkCh    chan string
	spinnerPos int
	status     string
	fatalErr   error
}

type streamChunkMsg struct{ text string }
type streamDoneMsg struct{}
type spinMsg struct{}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// New builds the chat model. An empty sessionID starts a fresh session.
func New(application *app.Application, sessionID string) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message... (Enter sends, Esc stops a reply)"
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetWidth(80)
	ta.SetHeight(2)
	ta.Prompt = "▍ "
	ta.ShowLineNumbers = false

	m := &Model{
		app:    application,
		keys:   defaultKeyMap(),
		input:  ta,
		width:  80,
		height: 24,
		status: "Ready",
	}

	var err error
	if sessionID != "" {
		m.session, err = application.Store.GetSession(sessionID)
	}
	if m.session == nil && err == nil {
		m.session, err = application.Store.CreateSession("", "", "")
	}
	if err != nil {
		m.fatalErr = err
		return m
	}
	if err := m.loadHistory(); err != nil {
		m.fatalErr = err
	}
	return m
}

// loadHistory fills the transcript with the newest page and remembers the
// cursor for fetching older pages on demand.
func (m *Model) loadHistory() error {
	msgs, cursor, err := m.app.Store.GetMessagesPaginated(m.session.ID, historyPageSize, nil, app.Backward)
	if err != nil {
		return err
	}
	m.messages = toViewMessages(msgs)
	m.older = cursor
	m.hasOlder = cursor != nil
	return nil
}

func (m *Model) loadOlderPage() {
	if !m.hasOlder {
		return
	}
	msgs, cursor, err := m.app.Store.GetMessagesPaginated(m.session.ID, historyPageSize, m.older, app.Backward)
	if err != nil {
		m.status = fmt.Sprintf("history load failed: %v", err)
		return
	}
	m.messages = append(toViewMessages(msgs), m.messages...)
	m.older = cursor
	m.hasOlder = cursor != nil
}

func toViewMessages(msgs []app.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, Message{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}
	return out
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatH := max(3, m.height-m.input.Height()-6)
		if !m.ready {
			m.chatVP = viewport.New(m.width-2, chatH)
			m.ready = true
		} else {
			m.chatVP.Width = m.width - 2
			m.chatVP.Height = chatH
		}
		m.input.SetWidth(max(10, m.width-6))
		m.refreshViewport(true)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Enter):
			return m.submit()

		case key.Matches(msg, m.keys.Stop):
			if m.streaming {
				m.app.Engine.StopStream(m.session.ID)
			}
			return m, nil

		case key.Matches(msg, m.keys.NewSession):
			if m.streaming {
				return m, nil
			}
			session, err := m.app.Store.CreateSession("", "", "")
			if err != nil {
				m.status = fmt.Sprintf("error: %v", err)
				return m, nil
			}
			m.session = session
			m.messages = nil
			m.older = nil
			m.hasOlder = false
			m.status = "New session"
			m.refreshViewport(true)
			return m, nil

		case key.Matches(msg, m.keys.Star):
			starred := !m.session.IsStarred
			if err := m.app.Store.SetSessionStarred(m.session.ID, starred); err == nil {
				m.session.IsStarred = starred
			}
			return m, nil

		case key.Matches(msg, m.keys.PageUp):
			if m.ready && m.chatVP.AtTop() && m.hasOlder {
				m.loadOlderPage()
				m.refreshViewport(false)
				return m, nil
			}
		}

	case streamChunkMsg:
		if m.streaming {
			m.setLastAssistant(msg.text)
			m.refreshViewport(true)
			return m, m.waitChunk()
		}
		return m, nil

	case streamDoneMsg:
		return m.finishStream()

	case spinMsg:
		if m.streaming {
			m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
			return m, m.spinCmd()
		}
		return m, nil
	}

	if m.ready {
		m.chatVP, cmd = m.chatVP.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit sends the textarea content as a user turn and wires the streaming
// reply into the transcript.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.input.Value())
	if query == "" || m.streaming {
		return m, nil
	}

	threadID, err := m.app.Engine.StartStream(context.Background(), m.session.ID, query, nil)
	if err != nil {
		m.status = fmt.Sprintf("error: %v", err)
		return m, nil
	}
	m.input.Reset()

	now := time.Now()
	m.messages = append(m.messages,
		Message{ID: "u-" + threadID, Role: app.RoleUser, Content: query, Timestamp: now},
		Message{ID: "a-" + threadID, Role: app.RoleAssistant, Content: "", Timestamp: now},
	)
	m.refreshViewport(true)

	ex := m.app.Engine.GetActiveThread(threadID)
	if ex == nil {
		// The turn already finished; pick the reply up from the store.
		return m.finishStream()
	}

	ch := make(chan string, 64)
	ex.Subscribe(func(text string) {
		select {
		case ch <- text:
		default:
		}
	})

	m.streaming = true
	m.exchange = ex
	m.chunkCh = ch
	m.status = "Streaming..."
	return m, tea.Batch(m.waitChunk(), m.spinCmd())
}

// waitChunk blocks on the next cumulative-text update, falling through to a
// done message when the exchange reaches a terminal state.
func (m *Model) waitChunk() tea.Cmd {
	ch := m.chunkCh
	done := m.exchange.Done()
	return func() tea.Msg {
		select {
		case text := <-ch:
			return streamChunkMsg{text: text}
		case <-done:
			return streamDoneMsg{}
		}
	}
}

func (m *Model) spinCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return spinMsg{}
	})
}

// finishStream settles the transcript from the store once a turn ends, so
// the view matches what was actually persisted.
func (m *Model) finishStream() (tea.Model, tea.Cmd) {
	ex := m.exchange
	m.streaming = false
	m.exchange = nil
	m.chunkCh = nil

	switch {
	case ex != nil && ex.IsCancelled():
		// Nothing was persisted; drop the user turn's pending reply bubble.
		if n := len(m.messages); n > 0 && m.messages[n-1].Role == app.RoleAssistant && m.messages[n-1].Content == "" {
			m.messages = m.messages[:n-1]
		}
		m.status = "Stopped"
	case ex != nil && ex.HasFailed():
		m.status = "Reply interrupted"
		m.reloadLastReply()
	default:
		m.status = "Ready"
		m.reloadLastReply()
	}

	if session, err := m.app.Store.GetSession(m.session.ID); err == nil && session != nil {
		m.session = session
	}
	m.refreshViewport(true)
	return m, nil
}

func (m *Model) reloadLastReply() {
	msgs, _, err := m.app.Store.GetMessagesPaginated(m.session.ID, 1, nil, app.Backward)
	if err != nil || len(msgs) == 0 {
		return
	}
	if msgs[0].Role == app.RoleAssistant {
		m.setLastAssistant(msgs[0].Content)
	}
}

func (m *Model) setLastAssistant(content string) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == app.RoleAssistant {
			m.messages[i].Content = content
			return
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
