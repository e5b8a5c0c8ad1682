package viz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg reports done of total units recorded.
type ProgressMsg struct {
	Done, Total int
}

type finishedMsg struct{}

// Progress is a Bubble Tea model showing a run's completion.
type Progress struct {
	title    string
	done     int
	total    int
	start    time.Time
	finished bool
	width    int
}

func NewProgress(title string, total int) Progress {
	return Progress{title: title, total: total, start: time.Now(), width: 40}
}

func (m Progress) Init() tea.Cmd { return nil }

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.done, m.total = msg.Done, msg.Total
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = max(10, min(60, msg.Width-30))
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Progress) View() string {
	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	elapsed := time.Since(m.start).Round(100 * time.Millisecond)
	line := fmt.Sprintf("%s %s %d/%d %s",
		Title.Render(m.title), ProgressBar(pct, m.width), m.done, m.total, Subtle.Render(elapsed.String()))
	if m.finished {
		return line + "\n"
	}
	return line
}

// Percent is the completed fraction, 0 when total is unknown.
func (m Progress) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// RunProgress renders a progress bar on out while work runs. work receives
// the callback to report progress and its error is returned once it ends.
func RunProgress(ctx context.Context, out io.Writer, title string, total int, work func(report func(done, total int)) error) error {
	p := tea.NewProgram(NewProgress(title, total),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
	)

	errc := make(chan error, 1)
	go func() {
		err := work(func(done, total int) { p.Send(ProgressMsg{Done: done, Total: total}) })
		p.Send(finishedMsg{})
		errc <- err
	}()

	_, runErr := p.Run()
	err := <-errc
	if err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
