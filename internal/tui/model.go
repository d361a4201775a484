package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/opstray-io/opstray/internal/daemon"
)

const expandTimeout = 30 * time.Second

// entry is one visible row.
type entry struct {
	path      string
	label     string
	container bool
}

// level is one step of the navigation stack. The bottom level has an empty
// namespace and lists the namespaces themselves.
type level struct {
	namespace string
	path      string
	title     string
}

// loadedMsg carries the result of an expand. Namespace and path identify the
// level it was loaded for; results for a level the user already left are
// dropped.
type loadedMsg struct {
	namespace string
	path      string
	entries   []entry
	err       error
}

type model struct {
	d *daemon.Daemon

	stack   []level
	entries []entry
	cursor  int
	loading bool
	errMsg  string

	spin   spinner.Model
	width  int
	height int
}

func newModel(d *daemon.Daemon) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{
		d:       d,
		stack:   []level{{title: "namespaces"}},
		loading: true,
		spin:    sp,
	}
}

func (m model) top() level {
	return m.stack[len(m.stack)-1]
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.loadCmd())
}

// loadCmd expands the current level. The namespace list is served from the
// facade directly; everything deeper goes through the resource trees.
func (m model) loadCmd() tea.Cmd {
	cur := m.top()
	d := m.d
	return func() tea.Msg {
		if cur.namespace == "" {
			entries := make([]entry, 0)
			for _, ns := range d.Namespaces() {
				entries = append(entries, entry{path: ns, label: ns, container: true})
			}
			return loadedMsg{entries: entries}
		}

		ctx, cancel := context.WithTimeout(context.Background(), expandTimeout)
		defer cancel()

		children, err := d.Expand(ctx, cur.namespace, cur.path)
		entries := make([]entry, 0, len(children))
		for _, c := range children {
			label := c.Label
			if label == "" {
				label = c.Path
			}
			entries = append(entries, entry{path: c.Path, label: label, container: c.IsContainer})
		}
		return loadedMsg{namespace: cur.namespace, path: cur.path, entries: entries, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case loadedMsg:
		cur := m.top()
		if msg.namespace != cur.namespace || msg.path != cur.path {
			return m, nil
		}
		m.loading = false
		m.entries = msg.entries
		m.errMsg = ""
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		if m.cursor >= len(m.entries) {
			m.cursor = max(0, len(m.entries)-1)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, browserKeys.Quit):
		return m, tea.Quit

	case key.Matches(msg, browserKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, browserKeys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, browserKeys.Enter):
		if m.loading || m.cursor >= len(m.entries) {
			return m, nil
		}
		item := m.entries[m.cursor]
		if !item.container {
			return m, nil
		}
		next := level{namespace: m.top().namespace, path: item.path, title: item.label}
		if next.namespace == "" {
			// Descending from the namespace list into a tree root.
			next = level{namespace: item.path, title: item.path}
		}
		m.stack = append(m.stack, next)
		return m.reload()

	case key.Matches(msg, browserKeys.Back):
		if len(m.stack) == 1 {
			return m, nil
		}
		m.stack = m.stack[:len(m.stack)-1]
		return m.reload()

	case key.Matches(msg, browserKeys.Refresh):
		cur := m.top()
		if cur.namespace != "" {
			_ = m.d.Invalidate(cur.namespace, cur.path, false)
		}
		return m.reload()
	}

	return m, nil
}

func (m model) reload() (tea.Model, tea.Cmd) {
	m.loading = true
	m.cursor = 0
	m.entries = nil
	m.errMsg = ""
	return m, tea.Batch(m.spin.Tick, m.loadCmd())
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("opstray"))
	b.WriteString("  ")
	crumbs := make([]string, 0, len(m.stack))
	for _, lv := range m.stack {
		crumbs = append(crumbs, lv.title)
	}
	b.WriteString(breadcrumbStyle.Render(strings.Join(crumbs, " / ")))
	b.WriteString("\n\n")

	switch {
	case m.loading:
		b.WriteString(m.spin.View() + " loading...\n")
	case len(m.entries) == 0 && m.errMsg == "":
		b.WriteString(emptyStyle.Render("(empty)") + "\n")
	default:
		first, last := m.visibleRange()
		for i := first; i < last; i++ {
			e := m.entries[i]
			line := leafStyle.Render(e.label)
			if e.container {
				line = containerStyle.Render(e.label)
			}
			if i == m.cursor {
				line = selectedItemStyle.Render("> " + e.label)
			} else {
				line = "  " + line
			}
			if m.width > 0 {
				line = ansi.Truncate(line, m.width, "…")
			}
			b.WriteString(line + "\n")
		}
	}

	if m.errMsg != "" {
		b.WriteString("\n" + errorStyle.Render("! "+m.errMsg) + "\n")
	}

	b.WriteString("\n" + m.statusBar())
	return b.String()
}

// visibleRange keeps the cursor inside the window when the list is taller
// than the screen.
func (m model) visibleRange() (int, int) {
	rows := m.height - 6
	if rows < 1 || m.height == 0 {
		rows = len(m.entries)
	}
	first := 0
	if m.cursor >= rows {
		first = m.cursor - rows + 1
	}
	last := first + rows
	if last > len(m.entries) {
		last = len(m.entries)
	}
	return first, last
}

func (m model) statusBar() string {
	hints := []string{
		keyStyle.Render("j/k") + hintStyle.Render(" navigate"),
		keyStyle.Render("Enter") + hintStyle.Render(" expand"),
		keyStyle.Render("Backspace") + hintStyle.Render(" back"),
		keyStyle.Render("r") + hintStyle.Render(" refresh"),
		keyStyle.Render("q") + hintStyle.Render(" quit"),
	}
	bar := strings.Join(hints, hintStyle.Render("  "))
	count := ""
	if !m.loading {
		count = statusBarStyle.Render(fmt.Sprintf(" %d item(s) ", len(m.entries)))
	}
	return bar + "  " + count
}
