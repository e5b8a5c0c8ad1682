package persist

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/UynajGI/yuusim/internal/perf"
)

// ExportData is the human-readable form of a snapshot.
type ExportData struct {
	Project    string         `json:"project"`
	RunID      string         `json:"run_id"`
	ConfigHash string         `json:"config_hash"`
	CreatedAt  string         `json:"created_at"`
	Mode       string         `json:"mode"`
	Workers    int            `json:"workers"`
	Config     map[string]any `json:"config"`
	Summary    ExportSummary  `json:"summary"`
	Tasks      []TaskRecord   `json:"tasks"`
}

type ExportSummary struct {
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Cancelled  int     `json:"cancelled"`
	MeanMillis float64 `json:"mean_ms"`
	P95Millis  float64 `json:"p95_ms"`
}

func exportData(snap *Snapshot) ExportData {
	report := perf.FromUnits(snap.Units())
	return ExportData{
		Project:    snap.Project,
		RunID:      snap.RunID,
		ConfigHash: snap.ConfigHash,
		CreatedAt:  snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Mode:       snap.Mode,
		Workers:    snap.Workers,
		Config:     snap.Config,
		Summary: ExportSummary{
			Total:      report.Total,
			Succeeded:  report.Succeeded,
			Failed:     report.Failed,
			Cancelled:  report.Cancelled,
			MeanMillis: float64(report.Durations.Mean.Microseconds()) / 1000,
			P95Millis:  float64(report.Durations.P95.Microseconds()) / 1000,
		},
		Tasks: snap.Tasks,
	}
}

// ExportJSON writes snap as indented JSON to w.
func ExportJSON(w io.Writer, snap *Snapshot) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportData(snap))
}

// ExportJSONFile writes snap to path, creating parent directories.
func ExportJSONFile(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ExportJSON(file, snap)
}
