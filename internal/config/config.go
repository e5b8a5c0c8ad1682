// Package config loads simulation configuration files.
//
// A configuration document has three top-level sections:
//
//	system:      base parameter set handed to every task
//	parameters:  optional ranges expanded into a parameter grid
//	run:         optional execution options (workers, mode, timeout, ...)
//
// Documents may be written in YAML, JSON, TOML or HCL; the format is chosen by
// file extension.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	DefaultLogBase = 10.0
	DefaultFormat  = "yaml"
)

var (
	// ErrMissingSystem indicates a document without a "system" mapping.
	ErrMissingSystem = errors.New("config: missing required section \"system\"")

	// ErrExists indicates Save refused to overwrite a file.
	ErrExists = errors.New("config: file already exists")
)

// UnsupportedFormatError is returned for an unknown file extension.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("config: unsupported file format %q for %s (supported: %s)",
		e.Ext, e.Path, strings.Join(SupportedFormats(), ", "))
}

// MissingParametersError is returned when a parameter range lacks fields.
type MissingParametersError struct {
	Param   string
	Missing []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("config: parameter %q missing required fields: %s",
		e.Param, strings.Join(e.Missing, ", "))
}

// File is a decoded configuration document.
type File struct {
	System     map[string]any
	Parameters map[string]ParamSpec
	Run        map[string]any

	raw map[string]any
}

// Load reads and validates the document at path.
func Load(path string) (*File, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	raw, err := decode(format, path, data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return FromMap(raw)
}

// FromMap validates an already-decoded document.
func FromMap(raw map[string]any) (*File, error) {
	raw = normalize(raw).(map[string]any)

	system, ok := raw["system"].(map[string]any)
	if !ok {
		return nil, ErrMissingSystem
	}

	f := &File{System: system, raw: raw}

	if section, ok := raw["parameters"]; ok && section != nil {
		params, ok := section.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: \"parameters\" must be a mapping, got %T", section)
		}
		f.Parameters = make(map[string]ParamSpec, len(params))
		for name, v := range params {
			spec, err := parseSpec(name, v)
			if err != nil {
				return nil, err
			}
			f.Parameters[name] = spec
		}
	}

	if section, ok := raw["run"]; ok && section != nil {
		run, ok := section.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: \"run\" must be a mapping, got %T", section)
		}
		f.Run = run
	}

	return f, nil
}

// Save writes f to path in the format implied by its extension. An existing
// file is only replaced when force is set.
func Save(path string, f *File, force bool) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := encode(format, f.Map())
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Map returns the whole document as a generic mapping.
func (f *File) Map() map[string]any {
	if f.raw != nil {
		return f.raw
	}
	out := map[string]any{"system": f.System}
	if len(f.Parameters) > 0 {
		params := make(map[string]any, len(f.Parameters))
		for name, spec := range f.Parameters {
			params[name] = spec.toMap()
		}
		out["parameters"] = params
	}
	if len(f.Run) > 0 {
		out["run"] = f.Run
	}
	return out
}

// Options returns the mapping handed to the environment: top-level keys with
// the "run" section laid over them.
func (f *File) Options() map[string]any {
	out := maps.Clone(f.Map())
	delete(out, "run")
	maps.Copy(out, f.Run)
	return out
}

// Hash is the short content hash of the document for project. It hashes
// Options, the mapping an environment is loaded with, so it names the same
// run artifacts the environment does.
func (f *File) Hash(project string) string {
	return Hash(f.Options(), project)
}

// SupportedFormats lists accepted extensions.
func SupportedFormats() []string {
	return []string{".yaml", ".yml", ".json", ".toml", ".hcl"}
}

func formatOf(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	case ".toml":
		return "toml", nil
	case ".hcl":
		return "hcl", nil
	default:
		return "", &UnsupportedFormatError{Path: path, Ext: ext}
	}
}

// normalize makes decoded documents from every format comparable: integer and
// float scalars become float64, and nested maps become map[string]any.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
