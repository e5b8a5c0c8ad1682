package config

import (
	"fmt"
	"maps"
	"math"
)

// ParamSpec describes one swept parameter.
type ParamSpec struct {
	Start    float64
	End      float64
	Steps    int
	LogScale bool
}

func parseSpec(name string, v any) (ParamSpec, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return ParamSpec{}, fmt.Errorf("config: parameter %q must be a mapping, got %T", name, v)
	}

	var missing []string
	num := func(key string) float64 {
		f, ok := toFloat(m[key])
		if !ok {
			missing = append(missing, key)
		}
		return f
	}

	spec := ParamSpec{Start: num("start"), End: num("end")}
	steps := num("steps")
	if len(missing) > 0 {
		return ParamSpec{}, &MissingParametersError{Param: name, Missing: missing}
	}

	if steps < 1 || steps != math.Trunc(steps) {
		return ParamSpec{}, fmt.Errorf("config: parameter %q: steps must be a positive integer, got %v", name, steps)
	}
	spec.Steps = int(steps)

	if ls, ok := m["log_scale"]; ok {
		b, ok := ls.(bool)
		if !ok {
			return ParamSpec{}, fmt.Errorf("config: parameter %q: log_scale must be a boolean", name)
		}
		spec.LogScale = b
	}
	if spec.LogScale && (spec.Start <= 0 || spec.End <= 0) {
		return ParamSpec{}, fmt.Errorf("config: parameter %q: log-scale range must be positive", name)
	}
	return spec, nil
}

func (p ParamSpec) toMap() map[string]any {
	return map[string]any{
		"start":     p.Start,
		"end":       p.End,
		"steps":     float64(p.Steps),
		"log_scale": p.LogScale,
	}
}

// Values expands the range. base applies to log-scale ranges only.
func (p ParamSpec) Values(base float64) []float64 {
	if p.LogScale {
		return Logspace(p.Start, p.End, p.Steps, base)
	}
	return Linspace(p.Start, p.End, p.Steps)
}

// Linspace returns n evenly spaced values from start to end inclusive.
func Linspace(start, end float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// Logspace returns n values from start to end inclusive whose logarithms in
// base are evenly spaced.
func Logspace(start, end float64, n int, base float64) []float64 {
	if base <= 0 || base == 1 {
		base = DefaultLogBase
	}
	logb := func(x float64) float64 { return math.Log(x) / math.Log(base) }

	exps := Linspace(logb(start), logb(end), n)
	out := make([]float64, len(exps))
	for i, e := range exps {
		out[i] = math.Pow(base, e)
	}
	if n > 0 {
		out[0] = start
	}
	if n > 1 {
		out[n-1] = end
	}
	return out
}

// Grid expands every parameter. Names are returned sorted; ranges[i] belongs
// to names[i].
func Grid(specs map[string]ParamSpec, base float64) (names []string, ranges [][]float64) {
	names = sortedKeys(specs)
	ranges = make([][]float64, len(names))
	for i, name := range names {
		ranges[i] = specs[name].Values(base)
	}
	return names, ranges
}

// ParameterSets returns the cartesian product of the parameter grid, each
// combination merged over the system mapping. The first sorted name varies
// slowest. Without parameters the result is the system mapping alone.
func (f *File) ParameterSets(base float64) []any {
	if len(f.Parameters) == 0 {
		return []any{maps.Clone(f.System)}
	}

	names, ranges := Grid(f.Parameters, base)
	size := 1
	for _, r := range ranges {
		size *= len(r)
	}

	sets := make([]any, 0, size)
	var walk func(depth int, current map[string]any)
	walk = func(depth int, current map[string]any) {
		if depth == len(names) {
			set := maps.Clone(f.System)
			if set == nil {
				set = make(map[string]any, len(current))
			}
			maps.Copy(set, current)
			sets = append(sets, set)
			return
		}
		for _, val := range ranges[depth] {
			next := maps.Clone(current)
			next[names[depth]] = val
			walk(depth+1, next)
		}
	}
	walk(0, map[string]any{})

	return sets
}
