package overlay

import (
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type TextMsg struct{ Text string }
type PressMsg struct{}
type ReleaseMsg struct{}
type StatusMsg struct{ Text string }

// ListeningMsg reports whether the listener holds a recognition attempt.
// Once one arrives the box title follows it instead of the press state.
type ListeningMsg struct{ On bool }
type copiedMsg struct{ err error }

const minBoxHeight = 5

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			PaddingLeft(1).
			PaddingRight(1)
	boxPressedStyle = boxStyle.BorderForeground(lipgloss.Color("196"))
	titleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	recStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	textStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	placeholder     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	copiedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type model struct {
	surface       *Surface
	copyText      func(string) error
	width, height int
	text          string
	pressed       bool
	mouseHeld     bool
	copied        bool
	status        string

	listening bool
	tracked   bool
}

func newModel(s *Surface) model {
	return model{surface: s, copyText: clipboard.WriteAll, text: s.Text()}
}

// NewProgram builds the overlay TUI for s. Text updates on the surface are
// forwarded to the program; callers may Send PressMsg and ReleaseMsg from a
// global hotkey and StatusMsg for the header line.
func NewProgram(s *Surface) *tea.Program {
	p := tea.NewProgram(newModel(s), tea.WithAltScreen(), tea.WithMouseCellMotion())
	s.OnChange(func(text string) { p.Send(TextMsg{Text: text}) })
	return p
}

func (m model) Init() tea.Cmd { return nil }

// boxTop is the first row of the control box, the bottom fifth of the screen.
func (m model) boxTop() int {
	top, _ := bottomFifth(m.height, minBoxHeight)
	return top
}

// bottomFifth splits a screen height so the control area covers the bottom
// fifth, at least minHeight and at most the whole screen.
func bottomFifth(height, minHeight int) (top, areaHeight int) {
	areaHeight = min(max(height/5, minHeight), max(height, 0))
	return max(height, 0) - areaHeight, areaHeight
}

func (m model) press() model {
	if !m.pressed {
		m.pressed = true
		m.surface.Press()
	}
	return m
}

func (m model) release() model {
	if m.pressed {
		m.pressed = false
		m.surface.Release()
	}
	return m
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case msg.Type == tea.KeySpace:
			if m.pressed {
				m = m.release()
			} else {
				m = m.press()
			}
		case msg.String() == "c":
			text := m.text
			copyText := m.copyText
			return m, func() tea.Msg { return copiedMsg{err: copyText(text)} }
		case msg.String() == "q" || msg.String() == "ctrl+c":
			m = m.release()
			return m, tea.Quit
		}

	case tea.MouseMsg:
		if msg.Button != tea.MouseButtonLeft && msg.Action != tea.MouseActionRelease {
			break
		}
		switch msg.Action {
		case tea.MouseActionPress:
			if msg.Y >= m.boxTop() {
				m.mouseHeld = true
				m = m.press()
			}
		case tea.MouseActionRelease:
			if m.mouseHeld {
				m.mouseHeld = false
				m = m.release()
			}
		}

	case PressMsg:
		m = m.press()

	case ReleaseMsg:
		m = m.release()

	case TextMsg:
		m.text = msg.Text
		m.copied = false

	case StatusMsg:
		m.status = msg.Text

	case ListeningMsg:
		m.listening, m.tracked = msg.On, true

	case copiedMsg:
		m.copied = msg.err == nil
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	top := m.boxTop()
	var header []string
	if m.status != "" {
		header = append(header, titleStyle.Render(m.status))
	}
	header = append(header, helpStyle.Render("hold mouse or space to talk · c copy · q quit"))
	for len(header) < top {
		header = append(header, "")
	}
	header = header[:min(len(header), top)]

	innerWidth := max(m.width-4, 1)
	innerHeight := max(m.height-top-2, 1)

	listening := m.pressed
	if m.tracked {
		listening = m.listening
	}
	var title string
	if listening {
		title = recStyle.Render("● listening")
	} else {
		title = titleStyle.Render("○ idle")
	}
	lines := []string{title}
	if m.text == "" {
		lines = append(lines, placeholder.Render("…"))
	} else {
		wrapped := wrapText(m.text, innerWidth)
		for i, line := range wrapped {
			line = textStyle.Render(line)
			if i == len(wrapped)-1 && m.copied {
				line += " " + copiedStyle.Render("[✓ copied]")
			}
			lines = append(lines, line)
		}
	}
	// keep the newest text visible
	if len(lines) > innerHeight {
		lines = append([]string{title}, lines[len(lines)-innerHeight+1:]...)
	}

	style := boxStyle
	if m.pressed {
		style = boxPressedStyle
	}
	box := style.
		Width(m.width - 2).
		Height(innerHeight).
		Render(strings.Join(lines, "\n"))

	if len(header) == 0 {
		return box
	}
	return strings.Join(header, "\n") + "\n" + box
}

// wrapText breaks text at spaces into lines of at most width terminal
// cells. Words wider than a line are split between runes.
func wrapText(text string, width int) []string {
	width = max(width, 1)

	var lines []string
	var line strings.Builder
	lineWidth := 0
	flush := func() {
		lines = append(lines, line.String())
		line.Reset()
		lineWidth = 0
	}
	for _, word := range strings.Fields(text) {
		w := lipgloss.Width(word)
		for w > width {
			if lineWidth > 0 {
				flush()
			}
			var head string
			head, word = splitWidth(word, width)
			lines = append(lines, head)
			w = lipgloss.Width(word)
		}
		if lineWidth > 0 && lineWidth+1+w > width {
			flush()
		}
		if lineWidth > 0 {
			line.WriteByte(' ')
			lineWidth++
		}
		line.WriteString(word)
		lineWidth += w
	}
	if lineWidth > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}

// splitWidth cuts s after the runes that fit in width cells, keeping at
// least one rune in head.
func splitWidth(s string, width int) (head, rest string) {
	used := 0
	for i, r := range s {
		rw := lipgloss.Width(string(r))
		if used+rw > width && i > 0 {
			return s[:i], s[i:]
		}
		used += rw
	}
	return s, ""
}
