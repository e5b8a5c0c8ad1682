package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/UynajGI/yuusim/internal/task"
)

// Bar colours by unit status.
var statusColors = map[task.Status]string{
	task.Succeeded: "#00ff88",
	task.Failed:    "#ff4444",
	task.Cancelled: "#ffaa00",
}

// DurationsSVG writes a bar chart of per-unit durations, one bar per unit in
// submission order, coloured by status.
func DurationsSVG(w io.Writer, units []task.Unit, width, height int) error {
	if len(units) == 0 {
		return fmt.Errorf("export: no task units to plot")
	}

	maxMs := 0.0
	ms := make([]float64, len(units))
	for i, u := range units {
		if u.Ran() && !u.End.IsZero() {
			ms[i] = float64(u.Duration().Microseconds()) / 1000
		}
		maxMs = max(maxMs, ms[i])
	}
	if maxMs == 0 {
		maxMs = 1
	}

	const margin = 30.0
	plotW := float64(width) - 2*margin
	plotH := float64(height) - 2*margin
	barW := plotW / float64(len(units))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<text x="%.0f" y="20" fill="#888899" font-family="monospace" font-size="12">task duration (max %.3f ms)</text>
<g>
`, width, height, width, height, margin, maxMs))

	for i, u := range units {
		h := ms[i] / maxMs * plotH
		x := margin + float64(i)*barW
		y := margin + plotH - h
		color, ok := statusColors[u.Status]
		if !ok {
			color = "#666688"
		}
		sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"><title>#%d %s %.3f ms</title></rect>
`, x, y, max(barW-1, 0.5), h, color, u.Index, u.Status, ms[i]))
	}

	sb.WriteString(fmt.Sprintf(`</g>
<line x1="%.0f" y1="%.0f" x2="%.0f" y2="%.0f" stroke="#444466"/>
</svg>
`, margin, margin+plotH, margin+plotW, margin+plotH))

	_, err := io.WriteString(w, sb.String())
	return err
}

// DurationsSVGFile writes the chart to path, creating parent directories.
func DurationsSVGFile(path string, units []task.Unit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := DurationsSVG(f, units, 800, 400); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
