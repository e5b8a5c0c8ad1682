package task

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/UynajGI/yuusim/internal/logging"
)

type kindErr struct{}

func (kindErr) Error() string { return "diverged" }
func (kindErr) Kind() string  { return "unstable" }

func double(_ context.Context, p any) (any, error) {
	return p.(int) * 2, nil
}

func TestExecuteOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		fn         Func
		wantStatus Status
		wantKind   string
	}{
		{"success", double, Succeeded, ""},
		{"error", func(context.Context, any) (any, error) { return nil, errors.New("boom") }, Failed, KindError},
		{"panic string", func(context.Context, any) (any, error) { panic("bad input") }, Failed, KindPanic},
		{"panic error", func(context.Context, any) (any, error) { panic(errors.New("nil map")) }, Failed, KindPanic},
		{"kinder", func(context.Context, any) (any, error) { return nil, kindErr{} }, Failed, "unstable"},
		{"deadline", func(context.Context, any) (any, error) { return nil, context.DeadlineExceeded }, Failed, KindTimeout},
		{"canceled", func(context.Context, any) (any, error) { return nil, context.Canceled }, Cancelled, KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := New(3, 21)
			u.Execute(context.Background(), tt.fn, ExecOptions{Worker: 2})

			if u.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, u.Status)
			}
			if !u.Status.Terminal() {
				t.Error("status should be terminal")
			}
			if u.Worker != 2 {
				t.Errorf("expected worker 2, got %d", u.Worker)
			}
			if u.Start.IsZero() || u.End.Before(u.Start) {
				t.Errorf("bad timestamps: start=%v end=%v", u.Start, u.End)
			}

			if tt.wantKind == "" {
				if u.Err != nil {
					t.Errorf("unexpected error record %+v", u.Err)
				}
				if u.Result != 42 {
					t.Errorf("expected 42, got %v", u.Result)
				}
				return
			}
			if u.Err == nil {
				t.Fatal("expected error record")
			}
			if u.Result != nil {
				t.Errorf("failed unit must not carry a result, got %v", u.Result)
			}
			if u.Err.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, u.Err.Kind)
			}
			if u.Err.Message == "" || u.Err.Type == "" {
				t.Errorf("record should carry type and message: %+v", u.Err)
			}
		})
	}
}

func TestExecutePanicMessage(t *testing.T) {
	u := New(0, nil)
	u.Execute(context.Background(), func(context.Context, any) (any, error) {
		panic("bad input")
	}, ExecOptions{})

	if u.Err.Message != "bad input" {
		t.Errorf("expected panic value as message, got %q", u.Err.Message)
	}
	if u.Err.Type != "string" {
		t.Errorf("expected type string, got %q", u.Err.Type)
	}
}

func TestExecuteTaskTimeout(t *testing.T) {
	slow := func(ctx context.Context, _ any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	}

	u := New(0, nil)
	u.Execute(context.Background(), slow, ExecOptions{Timeout: 10 * time.Millisecond})

	if u.Status != Failed || u.Err.Kind != KindTimeout {
		t.Fatalf("expected failed timeout, got %s %+v", u.Status, u.Err)
	}
}

func TestExecuteHardKillAbandons(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stubborn := func(context.Context, any) (any, error) {
		<-release
		return "ignored", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	u := New(0, nil)
	start := time.Now()
	u.Execute(ctx, stubborn, ExecOptions{HardKill: true})

	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("hard kill should stop waiting once ctx ends")
	}
	if u.Status != Failed || u.Err.Kind != KindTimeout {
		t.Fatalf("expected failed timeout, got %s %+v", u.Status, u.Err)
	}
}

func TestExecuteValidate(t *testing.T) {
	u := New(0, 1)
	u.Execute(context.Background(), double, ExecOptions{
		Validate: func(v any) error {
			if v.(int) < 10 {
				return errors.New("too small")
			}
			return nil
		},
	})

	if u.Status != Failed || u.Err.Kind != KindInvalidResult {
		t.Fatalf("expected invalid result, got %s %+v", u.Status, u.Err)
	}
	if u.Result != nil {
		t.Error("rejected result must be dropped")
	}
}

func TestCancel(t *testing.T) {
	u := New(0, nil)
	if !u.Cancel("run timeout") {
		t.Fatal("pending unit should cancel")
	}
	if u.Status != Cancelled || u.Err.Kind != KindCancelled {
		t.Errorf("unexpected state %s %+v", u.Status, u.Err)
	}
	if u.Ran() || u.Duration() != 0 {
		t.Error("cancelled unit never ran")
	}

	done := New(1, 2)
	done.Execute(context.Background(), double, ExecOptions{})
	if done.Cancel("late") {
		t.Error("terminal unit must not cancel")
	}
	if done.Status != Succeeded {
		t.Errorf("status changed to %s", done.Status)
	}
}

func TestExecuteLogsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	New(0, 1).Execute(context.Background(), double, ExecOptions{Logger: logger})
	New(1, 1).Execute(context.Background(), func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	}, ExecOptions{Logger: logger})

	out := buf.String()
	for _, want := range []string{"task started", "task succeeded", "task failed", "kind=error"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestExecuteFallsBackToContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := logging.WithLogger(context.Background(), logger)

	New(3, 1).Execute(ctx, double, ExecOptions{})

	if out := buf.String(); !strings.Contains(out, "task succeeded") || !strings.Contains(out, "index=3") {
		t.Errorf("expected events on the context logger:\n%s", out)
	}
}
