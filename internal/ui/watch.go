package ui

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// watchInterval is the default redraw cadence for the live status view.
const watchInterval = 2 * time.Second

// RunStatusWatch drives a live status view: it calls collect on an
// interval and redraws until the user quits or ctx is cancelled. On a
// non-TTY writer it renders a single snapshot instead.
func RunStatusWatch(ctx context.Context, out io.Writer, interval time.Duration, collect func() (StatusInfo, error)) error {
	if interval <= 0 {
		interval = watchInterval
	}

	if !IsTTY(out) {
		info, err := collect()
		if err != nil {
			return err
		}
		return NewStatusRenderer(out, true).Render(info)
	}

	model := newWatchModel(collect, interval, DetectNoColor())

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if f, ok := out.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	_, err := tea.NewProgram(model, opts...).Run()
	if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

type watchTickMsg time.Time

type watchInfoMsg struct {
	info StatusInfo
	err  error
}

type watchModel struct {
	collect  func() (StatusInfo, error)
	interval time.Duration
	noColor  bool
	styles   Styles

	info     StatusInfo
	err      error
	updated  time.Time
	quitting bool
}

func newWatchModel(collect func() (StatusInfo, error), interval time.Duration, noColor bool) *watchModel {
	return &watchModel{
		collect:  collect,
		interval: interval,
		noColor:  noColor,
		styles:   GetStyles(noColor),
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.collectCmd(), m.tickCmd())
}

func (m *watchModel) collectCmd() tea.Cmd {
	return func() tea.Msg {
		info, err := m.collect()
		return watchInfoMsg{info: info, err: err}
	}
}

func (m *watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case watchInfoMsg:
		m.info = msg.info
		m.err = msg.err
		m.updated = time.Now()
		return m, nil

	case watchTickMsg:
		return m, tea.Batch(m.collectCmd(), m.tickCmd())
	}

	return m, nil
}

func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.err != nil {
		b.WriteString(m.styles.Error.Render("Status unavailable: "+m.err.Error()) + "\n")
	} else {
		_ = NewStatusRenderer(&b, m.noColor).Render(m.info)
	}

	footer := "q to quit"
	if !m.updated.IsZero() {
		footer += "  ·  updated " + m.updated.Format("15:04:05")
	}
	b.WriteString("\n" + m.styles.Dim.Render(footer) + "\n")

	return b.String()
}
