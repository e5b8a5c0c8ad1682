package env

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UynajGI/yuusim/internal/config"
)

// Workspace directory names under <output>/simulations/<project>.
const (
	DirData     = "data"
	DirLogs     = "logs"
	DirFigures  = "figures"
	DirTmp      = "tmp"
	DirConfig   = "config"
	DirAnalysis = "analysis"
)

// FigureKinds are the subdirectories of figures/.
var FigureKinds = []string{"svg", "video", "html"}

// Workspace is the on-disk folder tree of one project.
type Workspace struct {
	root string
}

// NewWorkspace creates <output>/simulations/<project> and its subfolders,
// checking first that the root is writable.
func NewWorkspace(output, project string) (*Workspace, error) {
	if project == "" {
		return nil, ErrEmptyProject
	}
	root := filepath.Join(output, "simulations", project)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	marker := filepath.Join(root, ".permission_test")
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return nil, fmt.Errorf("workspace not writable: %w", err)
	}
	os.Remove(marker)

	dirs := []string{DirData, DirLogs, DirTmp, DirConfig, DirAnalysis}
	for _, kind := range FigureKinds {
		dirs = append(dirs, filepath.Join(DirFigures, kind))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string               { return w.root }
func (w *Workspace) Dir(name string) string     { return filepath.Join(w.root, name) }
func (w *Workspace) Figures(kind string) string { return filepath.Join(w.root, DirFigures, kind) }

// SaveConfig writes cfg as YAML to config/<name>.yaml.
func (w *Workspace) SaveConfig(name string, cfg map[string]any) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(w.Dir(DirConfig), name+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing config copy: %w", err)
	}
	return path, nil
}

// WriteAnalysis stores a profiling report as analysis/<kind>_<timestamp>_<hash>.log.
func (w *Workspace) WriteAnalysis(kind, hash, body string, at time.Time) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.log", kind, config.Timestamp(at), hash)
	path := filepath.Join(w.Dir(DirAnalysis), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("writing analysis: %w", err)
	}
	return path, nil
}

// Clean empties tmp/, optionally data/ and logs/, then removes config and
// log files that belong neither to a stored run nor to hash. Runs are the
// files left in data/ plus the names in keep, which covers stores that do
// not write into the workspace.
func (w *Workspace) Clean(keepData, keepLogs bool, hash string, keep ...string) error {
	if err := clearDir(w.Dir(DirTmp)); err != nil {
		return err
	}
	if !keepData {
		if err := clearDir(w.Dir(DirData)); err != nil {
			return err
		}
	}
	if !keepLogs {
		if err := clearDir(w.Dir(DirLogs)); err != nil {
			return err
		}
	}

	stems, err := w.dataStems()
	if err != nil {
		return err
	}
	for _, name := range keep {
		stems[name] = true
	}
	for _, dir := range []string{DirConfig, DirLogs} {
		if err := removeUnused(w.Dir(dir), stems, hash); err != nil {
			return err
		}
	}
	return nil
}

// dataStems collects the base names, without extension, of stored run files.
func (w *Workspace) dataStems() (map[string]bool, error) {
	stems := make(map[string]bool)
	err := filepath.WalkDir(w.Dir(DirData), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			stems[stem(d.Name())] = true
		}
		return nil
	})
	return stems, err
}

func removeUnused(dir string, stems map[string]bool, hash string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || stems[stem(e.Name())] {
			continue
		}
		if hash != "" && strings.Contains(e.Name(), hash) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}

// clearDir removes every regular file directly inside dir and every
// subdirectory below it.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
