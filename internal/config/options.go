package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RunOptions are the execution settings recognised in a configuration mapping.
type RunOptions struct {
	Workers     int
	Mode        string
	Timeout     time.Duration
	TaskTimeout time.Duration
	HardKill    bool
}

// ParseOptions reads workers, mode, timeout, taskTimeout and hardKill from m.
// Snake-case spellings are accepted too. Unknown keys are ignored.
func ParseOptions(m map[string]any) (RunOptions, error) {
	var opts RunOptions

	if v, ok := lookup(m, "workers"); ok {
		n, err := asInt(v)
		if err != nil {
			return opts, fmt.Errorf("config: workers: %w", err)
		}
		opts.Workers = n
	}

	if v, ok := lookup(m, "mode"); ok {
		s, ok := v.(string)
		if !ok {
			return opts, fmt.Errorf("config: mode must be a string, got %T", v)
		}
		opts.Mode = s
	}

	if v, ok := lookup(m, "timeout"); ok {
		d, err := asDuration(v)
		if err != nil {
			return opts, fmt.Errorf("config: timeout: %w", err)
		}
		opts.Timeout = d
	}

	if v, ok := lookup(m, "taskTimeout", "task_timeout"); ok {
		d, err := asDuration(v)
		if err != nil {
			return opts, fmt.Errorf("config: taskTimeout: %w", err)
		}
		opts.TaskTimeout = d
	}

	if v, ok := lookup(m, "hardKill", "hard_kill"); ok {
		b, err := asBool(v)
		if err != nil {
			return opts, fmt.Errorf("config: hardKill: %w", err)
		}
		opts.HardKill = b
	}

	return opts, nil
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asInt(v any) (int, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}

// asDuration accepts Go duration strings ("90s", "1m30s"), bare numbers as
// seconds, and "none" or "" for no limit.
func asDuration(v any) (time.Duration, error) {
	if d, ok := v.(time.Duration); ok {
		return d, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "none") {
			return 0, nil
		}
		if d, err := time.ParseDuration(s); err == nil {
			if d < 0 {
				return 0, fmt.Errorf("negative duration %v", d)
			}
			return d, nil
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		v = secs
	}
	secs, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("expected duration, got %T", v)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}
