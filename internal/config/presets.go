package config

import (
	"maps"
	"slices"
)

// Presets are ready-made documents for the built-in models, keyed by model
// then preset name.
var Presets = map[string]map[string]*File{
	"pendulum": {
		"small": {
			System: map[string]any{"theta": 0.2, "omega": 0.0, "dt": 0.01, "duration": 20.0},
		},
		"large": {
			System: map[string]any{"theta": 2.5, "omega": 0.0, "dt": 0.01, "duration": 20.0},
		},
		"sweep": {
			System: map[string]any{"omega": 0.0, "dt": 0.01, "duration": 10.0},
			Parameters: map[string]ParamSpec{
				"theta": {Start: 0.1, End: 3.0, Steps: 16},
			},
		},
		"damping": {
			System: map[string]any{"theta": 1.0, "omega": 0.0, "dt": 0.01, "duration": 10.0},
			Parameters: map[string]ParamSpec{
				"damping": {Start: 0.01, End: 10.0, Steps: 13, LogScale: true},
			},
		},
	},
	"spring_mass": {
		"release": {
			System: map[string]any{"pos": 1.0, "vel": 0.0, "dt": 0.01, "duration": 10.0},
		},
		"stiffness": {
			System: map[string]any{"pos": 1.0, "vel": 0.0, "dt": 0.005, "duration": 10.0},
			Parameters: map[string]ParamSpec{
				"stiffness": {Start: 1.0, End: 100.0, Steps: 9, LogScale: true},
				"damping":   {Start: 0.0, End: 2.0, Steps: 5},
			},
		},
	},
	"lorenz": {
		"classic": {
			System: map[string]any{"x": 1.0, "y": 1.0, "z": 1.0, "dt": 0.005, "duration": 30.0},
		},
		"rho": {
			System: map[string]any{"x": 1.0, "y": 1.0, "z": 1.0, "dt": 0.005, "duration": 30.0},
			Parameters: map[string]ParamSpec{
				"rho": {Start: 0.5, End: 60.0, Steps: 32},
			},
		},
	},
	"sleep": {
		"burst": {
			System: map[string]any{"ms": 5.0},
			Parameters: map[string]ParamSpec{
				"ms": {Start: 1.0, End: 50.0, Steps: 64},
			},
		},
	},
}

// GetPreset returns a copy of a preset, or nil if model or name is unknown.
func GetPreset(model, name string) *File {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	f, ok := modelPresets[name]
	if !ok {
		return nil
	}
	return &File{
		System:     maps.Clone(f.System),
		Parameters: maps.Clone(f.Parameters),
		Run:        maps.Clone(f.Run),
	}
}

// ListPresets returns the sorted preset names of model, or nil.
func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(modelPresets))
}
