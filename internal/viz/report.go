package viz

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/UynajGI/yuusim/internal/perf"
	"github.com/UynajGI/yuusim/internal/task"
)

// RenderReport draws the performance report in a panel.
func RenderReport(title string, r perf.Report) string {
	status := StatusOK.Render("all tasks succeeded")
	switch {
	case r.Total == 0:
		status = Subtle.Render("no tasks")
	case r.Succeeded == 0:
		status = StatusFail.Render("every task failed")
	case r.Failed > 0 || r.Cancelled > 0:
		status = StatusWarn.Render(fmt.Sprintf("%d failed, %d cancelled", r.Failed, r.Cancelled))
	}

	lines := []string{
		Title.Render(title),
		status,
		"",
		metric("tasks", fmt.Sprintf("%d (%d ok)", r.Total, r.Succeeded)),
		metric("wall", r.Wall.Round(time.Microsecond).String()),
		metric("throughput", fmt.Sprintf("%.2f tasks/s", r.Throughput)),
		metric("min/mean", fmt.Sprintf("%v / %v", round(r.Durations.Min), round(r.Durations.Mean))),
		metric("max", round(r.Durations.Max).String()),
		metric("p50/p90", fmt.Sprintf("%v / %v", round(r.Durations.P50), round(r.Durations.P90))),
		metric("p95/p99", fmt.Sprintf("%v / %v", round(r.Durations.P95), round(r.Durations.P99))),
	}
	if r.Total > 0 {
		lines = append(lines, "", ProgressBar(float64(r.Succeeded)/float64(r.Total), 30))
	}
	return Panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderFailures lists failed and cancelled units, at most limit of them
// (0 for all).
func RenderFailures(units []task.Unit, limit int) string {
	var sb strings.Builder
	shown := 0
	for _, u := range units {
		if u.Err == nil {
			continue
		}
		if limit > 0 && shown == limit {
			sb.WriteString(Subtle.Render("…") + "\n")
			break
		}
		style := StatusFail
		if u.Status == task.Cancelled {
			style = StatusWarn
		}
		fmt.Fprintf(&sb, "%s %s %s\n",
			Subtle.Render(fmt.Sprintf("#%-4d", u.Index)),
			style.Render(fmt.Sprintf("%-14s", u.Err.Kind)),
			u.Err.Message,
		)
		shown++
	}
	return sb.String()
}

// DurationPlot charts per-task durations in milliseconds by index. Units
// that never ran are plotted as zero. Returns "" when nothing ran.
func DurationPlot(units []task.Unit) string {
	data := make([]float64, len(units))
	ran := false
	for i, u := range units {
		if u.Ran() && !u.End.IsZero() {
			data[i] = float64(u.Duration().Microseconds()) / 1000
			ran = true
		}
	}
	if !ran {
		return ""
	}
	if len(data) == 1 {
		data = append(data, data[0])
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("task duration (ms) by index"),
	)
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}
