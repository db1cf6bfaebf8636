package tui

import (
	"fmt"
	"strings"

	"convo/internal/app"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorFg        = "#F8FAFC"
	colorFgMuted   = "#94A3B8"
	colorBorder    = "#334155"
	colorUser      = "#3B82F6"
	colorAssistant = "#10B981"
	colorError     = "#EF4444"
	colorAccent    = "#F59E0B"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorFg)).
			Padding(0, 1).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color(colorBorder))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorUser))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(colorAssistant))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorError))

	starStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAccent))

	moreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			Italic(true)
)

func (m *Model) View() string {
	if m.fatalErr != nil {
		return errorStyle.Render(fmt.Sprintf("startup failed: %v", m.fatalErr)) + "\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.chatVP.View())
	}
	b.WriteString("\n")
	b.WriteString(inputStyle.Width(max(10, m.width-4)).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	return b.String()
}

func (m *Model) renderHeader() string {
	title := m.session.Title
	if title == "" {
		title = app.PlaceholderTitle
	}
	if m.session.IsStarred {
		title = starStyle.Render("★ ") + title
	}
	return headerStyle.Width(max(10, m.width-2)).Render(title)
}

func (m *Model) renderStatus() string {
	status := m.status
	if m.streaming {
		status = fmt.Sprintf("%s %s", spinnerFrames[m.spinnerPos], status)
	}
	help := "enter send | esc stop | ctrl+n new | ctrl+s star | pgup history | ctrl+c quit"
	return statusStyle.Width(max(10, m.width-2)).Render(status + "  ·  " + help)
}

// refreshViewport re-renders the transcript. When follow is set the view
// snaps to the bottom, otherwise the scroll position is left alone.
func (m *Model) refreshViewport(follow bool) {
	if !m.ready {
		return
	}
	m.chatVP.SetContent(m.renderMessages())
	if follow {
		m.chatVP.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	var b strings.Builder
	width := max(10, m.chatVP.Width-2)

	if m.hasOlder {
		b.WriteString(moreStyle.Render("· older messages above, pgup to load ·"))
		b.WriteString("\n\n")
	}

	wrap := lipgloss.NewStyle().Width(width)
	for _, msg := range m.messages {
		var label string
		switch msg.Role {
		case app.RoleUser:
			label = userLabelStyle.Render("You")
		case app.RoleAssistant:
			label = assistantLabelStyle.Render("Assistant")
		default:
			label = timestampStyle.Render("System")
		}
		b.WriteString(label)
		b.WriteString(timestampStyle.Render("  " + msg.Timestamp.Format("15:04:05")))
		b.WriteString("\n")
		content := msg.Content
		if content == "" && msg.Role == app.RoleAssistant {
			content = "…"
		}
		b.WriteString(wrap.Render(content))
		b.WriteString("\n\n")
	}
	return b.String()
}
