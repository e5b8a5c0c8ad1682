package env_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/UynajGI/yuusim/internal/engine"
	"github.com/UynajGI/yuusim/internal/env"
	"github.com/UynajGI/yuusim/internal/perf"
	"github.com/UynajGI/yuusim/internal/persist"
	"github.com/UynajGI/yuusim/internal/task"
)

func double(_ context.Context, p any) (any, error) {
	n, ok := p.(int)
	if !ok {
		return nil, fmt.Errorf("not a number: %v", p)
	}
	return n * 2, nil
}

func alwaysFail(context.Context, any) (any, error) {
	return nil, errors.New("boom")
}

func sleeper(ctx context.Context, p any) (any, error) {
	select {
	case <-time.After(p.(time.Duration)):
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ = Describe("Environment", func() {
	var (
		ctx context.Context
		e   *env.Environment
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		e, err = env.New("demo")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects an empty project name", func() {
		_, err := env.New("")
		Expect(err).To(MatchError(env.ErrEmptyProject))
	})

	It("starts uninitialized", func() {
		Expect(e.State()).To(Equal(env.Uninitialized))
		Expect(e.Project()).To(Equal("demo"))
		Expect(e.Workspace()).To(BeNil())
	})

	Describe("Load", func() {
		It("binds the function and hashes the configuration", func() {
			Expect(e.Load(ctx, double, map[string]any{"workers": 2})).To(Succeed())
			Expect(e.State()).To(Equal(env.Loaded))
			Expect(e.ConfigHash()).To(HaveLen(8))
		})

		It("rejects a nil function", func() {
			Expect(e.Load(ctx, nil, nil)).To(MatchError(env.ErrNilFunc))
			Expect(e.State()).To(Equal(env.Uninitialized))
		})

		It("rejects a second load", func() {
			Expect(e.Load(ctx, double, nil)).To(Succeed())

			err := e.Load(ctx, double, nil)
			Expect(err).To(MatchError(env.ErrAlreadyLoaded))
			Expect(err).To(MatchError(env.ErrLifecycle))

			var se *env.StateError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Op).To(Equal("load"))
			Expect(se.State).To(Equal(env.Loaded))
		})

		It("is accepted again after cleanup", func() {
			Expect(e.Load(ctx, double, nil)).To(Succeed())
			Expect(e.Cleanup(ctx)).To(Succeed())
			Expect(e.Load(ctx, double, nil)).To(Succeed())
			Expect(e.State()).To(Equal(env.Loaded))
		})
	})

	Describe("Run", func() {
		It("rejects a run before load", func() {
			out, err := e.Run(ctx, []any{1})
			Expect(out).To(BeNil())
			Expect(err).To(MatchError(env.ErrNotLoaded))
			Expect(e.State()).To(Equal(env.Uninitialized))
		})

		It("doubles [1, 2, 3] sequentially", func() {
			Expect(e.Load(ctx, double, map[string]any{"mode": "sequential"})).To(Succeed())

			out, err := e.Run(ctx, []any{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.State()).To(Equal(env.Completed))
			Expect(out.Values).To(Equal([]any{2, 4, 6}))
			Expect(out.Failures).To(BeEmpty())
			Expect(out.Report.Succeeded).To(Equal(3))
			Expect(out.Report.Failed).To(BeZero())
			Expect(out.RunID).NotTo(BeEmpty())
			Expect(e.Outcome()).To(Equal(out))
		})

		It("isolates the failing unit", func() {
			Expect(e.Load(ctx, double, map[string]any{"workers": 3})).To(Succeed())

			out, err := e.Run(ctx, []any{1, "bad", 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Values).To(Equal([]any{2, nil, 6}))
			Expect(out.Failures).To(HaveLen(1))
			Expect(out.Failures[0].Index).To(Equal(1))
			Expect(out.Failures[0].Err.Kind).To(Equal(task.KindError))
		})

		It("completes when every unit fails", func() {
			Expect(e.Load(ctx, alwaysFail, nil)).To(Succeed())

			out, err := e.Run(ctx, []any{1, 2, 3, 4})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.State()).To(Equal(env.Completed))
			Expect(out.Report.Succeeded).To(BeZero())
			Expect(out.Report.Failed).To(Equal(4))
		})

		It("completes an empty run with zero throughput", func() {
			Expect(e.Load(ctx, double, nil)).To(Succeed())

			out, err := e.Run(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Results).To(BeEmpty())
			Expect(out.Report.Total).To(BeZero())
			Expect(out.Report.Throughput).To(BeZero())
		})

		It("rejects a second run and keeps the first outcome", func() {
			Expect(e.Load(ctx, double, nil)).To(Succeed())
			first, err := e.Run(ctx, []any{1, 2})
			Expect(err).NotTo(HaveOccurred())

			again, err := e.Run(ctx, []any{5})
			Expect(again).To(BeNil())
			Expect(err).To(MatchError(env.ErrLifecycle))
			Expect(e.State()).To(Equal(env.Completed))
			Expect(e.Outcome()).To(BeIdenticalTo(first))
			Expect(first.Values).To(Equal([]any{2, 4}))
		})

		It("fails on invalid run options", func() {
			Expect(e.Load(ctx, double, map[string]any{"mode": "distributed"})).To(Succeed())

			out, err := e.Run(ctx, []any{1})
			Expect(out).To(BeNil())
			Expect(err).To(MatchError(engine.ErrUnknownMode))
			Expect(e.State()).To(Equal(env.Failed))
		})

		It("fails on a negative worker count", func() {
			Expect(e.Load(ctx, double, map[string]any{"workers": -1})).To(Succeed())

			_, err := e.Run(ctx, []any{1})
			Expect(err).To(MatchError(engine.ErrPoolAllocation))

			var fault *engine.Fault
			Expect(errors.As(err, &fault)).To(BeTrue())
			Expect(e.State()).To(Equal(env.Failed))
			Expect(e.Cleanup(ctx)).To(Succeed())
		})

		It("ignores unknown configuration keys", func() {
			Expect(e.Load(ctx, double, map[string]any{"colour": "blue", "workers": 1})).To(Succeed())
			_, err := e.Run(ctx, []any{1})
			Expect(err).NotTo(HaveOccurred())
		})

		It("cancels or times out slow units after the run timeout", func() {
			cfg := map[string]any{"workers": 1, "timeout": "50ms"}
			Expect(e.Load(ctx, sleeper, cfg)).To(Succeed())

			out, err := e.Run(ctx, []any{time.Millisecond, 2 * time.Second, 2 * time.Second})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Results[0].Status).To(Equal(task.Succeeded))
			for _, u := range out.Results[1:] {
				Expect(u.Status).To(BeElementOf(task.Cancelled, task.Failed))
				Expect(u.Err.Kind).To(BeElementOf(task.KindCancelled, task.KindTimeout))
			}
		})

		It("reports progress and applies the validator", func() {
			var calls atomic.Int32
			e, err := env.New("demo",
				env.WithProgress(func(done, total int) { calls.Add(1) }),
				env.WithValidator(func(r any) error {
					if r.(int) > 4 {
						return errors.New("too large")
					}
					return nil
				}),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Load(ctx, double, nil)).To(Succeed())

			out, err := e.Run(ctx, []any{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(BeEquivalentTo(3))
			Expect(out.Failures).To(HaveLen(1))
			Expect(out.Failures[0].Err.Kind).To(Equal(task.KindInvalidResult))
		})

		It("produces a stable report", func() {
			Expect(e.Load(ctx, double, nil)).To(Succeed())
			out, err := e.Run(ctx, []any{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())

			again := perf.FromUnits(out.Results)
			Expect(again).To(Equal(out.Report))
		})
	})

	Describe("Cleanup", func() {
		It("is idempotent", func() {
			Expect(e.Cleanup(ctx)).To(Succeed())
			Expect(e.Cleanup(ctx)).To(Succeed())
			Expect(e.State()).To(Equal(env.CleanedUp))
		})

		It("is rejected while running", func() {
			release := make(chan struct{})
			started := make(chan struct{})
			blocker := func(context.Context, any) (any, error) {
				close(started)
				<-release
				return 1, nil
			}
			Expect(e.Load(ctx, blocker, nil)).To(Succeed())

			done := make(chan error, 1)
			go func() {
				_, err := e.Run(ctx, []any{1})
				done <- err
			}()
			Eventually(started).Should(BeClosed())

			err := e.Cleanup(ctx)
			Expect(err).To(MatchError(env.ErrLifecycle))
			Expect(e.State()).To(Equal(env.Running))

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(e.Cleanup(ctx)).To(Succeed())
		})
	})
})

var _ = Describe("Environment with persistence", func() {
	var (
		ctx   context.Context
		dir   string
		store *persist.FileStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		store = persist.NewFileStore(filepath.Join(dir, "runs"), "")
		Expect(store.Init()).To(Succeed())
	})

	It("saves a snapshot and detects matching results", func() {
		e, err := env.New("demo", env.WithStore(store))
		Expect(err).NotTo(HaveOccurred())
		cfg := map[string]any{"system": map[string]any{"k": 1.0}}
		Expect(e.Load(ctx, double, cfg)).To(Succeed())

		has, err := e.HasResults(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeFalse())

		out, err := e.Run(ctx, []any{1, 2})
		Expect(err).NotTo(HaveOccurred())

		snap, err := store.Load(ctx, "demo")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.RunID).To(Equal(out.RunID))
		Expect(snap.ConfigHash).To(Equal(e.ConfigHash()))
		Expect(snap.Tasks).To(HaveLen(2))

		has, err = e.HasResults(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())
	})

	It("exposes the previous run when resuming", func() {
		first, err := env.New("demo", env.WithStore(store))
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Load(ctx, double, nil)).To(Succeed())
		out, err := first.Run(ctx, []any{1})
		Expect(err).NotTo(HaveOccurred())

		second, err := env.New("demo", env.WithStore(store), env.WithResume(true))
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Load(ctx, double, nil)).To(Succeed())
		Expect(second.Previous()).NotTo(BeNil())
		Expect(second.Previous().RunID).To(Equal(out.RunID))

		fresh, err := second.Run(ctx, []any{4, 5})
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh.Values).To(Equal([]any{8, 10}))
	})

	It("lays out the workspace and copies the configuration", func() {
		e, err := env.New("demo", env.WithWorkspace(dir), env.WithCleanupPolicy(true, true))
		Expect(err).NotTo(HaveOccurred())

		ws := e.Workspace()
		Expect(ws).NotTo(BeNil())
		Expect(ws.Root()).To(Equal(filepath.Join(dir, "simulations", "demo")))
		for _, d := range []string{env.DirData, env.DirLogs, env.DirTmp, env.DirConfig, env.DirAnalysis} {
			Expect(ws.Dir(d)).To(BeADirectory())
		}
		for _, kind := range env.FigureKinds {
			Expect(ws.Figures(kind)).To(BeADirectory())
		}

		Expect(e.Load(ctx, double, map[string]any{"workers": 1})).To(Succeed())
		out, err := e.Run(ctx, []any{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Join(ws.Dir(env.DirConfig), out.Name+".yaml")).To(BeARegularFile())

		stale := filepath.Join(ws.Dir(env.DirConfig), "old_run.yaml")
		Expect(os.WriteFile(stale, []byte("x: 1\n"), 0644)).To(Succeed())
		scratch := filepath.Join(ws.Dir(env.DirTmp), "scratch.bin")
		Expect(os.WriteFile(scratch, []byte{1}, 0644)).To(Succeed())

		Expect(e.Cleanup(ctx)).To(Succeed())
		Expect(scratch).NotTo(BeAnExistingFile())
		Expect(stale).NotTo(BeAnExistingFile())
		Expect(filepath.Join(ws.Dir(env.DirConfig), out.Name+".yaml")).To(BeARegularFile())
	})

	It("keeps the config copy of every run stored in the workspace", func() {
		runs := persist.NewWorkspaceFileStore(filepath.Join(dir, "simulations"), env.DirData, "")

		var names []string
		for _, k := range []float64{1, 2} {
			e, err := env.New("demo", env.WithWorkspace(dir), env.WithStore(runs))
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Load(ctx, double, map[string]any{"system": map[string]any{"k": k}})).To(Succeed())
			out, err := e.Run(ctx, []any{1})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Cleanup(ctx)).To(Succeed())
			names = append(names, out.Name)
		}

		ws, err := env.NewWorkspace(dir, "demo")
		Expect(err).NotTo(HaveOccurred())
		entries, err := os.ReadDir(ws.Dir(env.DirData))
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		for _, name := range names {
			Expect(filepath.Join(ws.Dir(env.DirData), name+".ysim")).To(BeARegularFile())
			Expect(filepath.Join(ws.Dir(env.DirConfig), name+".yaml")).To(BeARegularFile())
		}

		metas, err := runs.List(ctx, "demo")
		Expect(err).NotTo(HaveOccurred())
		Expect(metas).To(HaveLen(2))
	})

	It("keeps config copies of runs held by a store outside the workspace", func() {
		var names []string
		for _, k := range []float64{1, 2} {
			e, err := env.New("demo", env.WithWorkspace(dir), env.WithStore(store))
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Load(ctx, double, map[string]any{"system": map[string]any{"k": k}})).To(Succeed())
			out, err := e.Run(ctx, []any{1})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Cleanup(ctx)).To(Succeed())
			names = append(names, out.Name)
		}

		ws := filepath.Join(dir, "simulations", "demo")
		for _, name := range names {
			Expect(filepath.Join(ws, env.DirConfig, name+".yaml")).To(BeARegularFile())
		}
	})

	It("profiles the first parameter set under the run's hash", func() {
		e, err := env.New("demo", env.WithWorkspace(dir), env.WithProfile(true))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Load(ctx, double, map[string]any{"workers": 2})).To(Succeed())

		out, err := e.Run(ctx, []any{3, 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Values).To(Equal([]any{6, 8}))

		Expect(out.Profile).NotTo(BeNil())
		Expect(out.Profile.Status).To(Equal(task.Succeeded))
		Expect(out.Analysis).To(BeARegularFile())
		Expect(filepath.Dir(out.Analysis)).To(Equal(e.Workspace().Dir(env.DirAnalysis)))
		Expect(filepath.Base(out.Analysis)).To(HavePrefix("profile_"))
		Expect(filepath.Base(out.Analysis)).To(HaveSuffix("_" + e.ConfigHash() + ".log"))

		body, err := os.ReadFile(out.Analysis)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("params: 3"))
	})

	It("drops data when the policy says so", func() {
		e, err := env.New("demo", env.WithWorkspace(dir), env.WithCleanupPolicy(false, true))
		Expect(err).NotTo(HaveOccurred())
		ws := e.Workspace()
		data := filepath.Join(ws.Dir(env.DirData), "20240101_000000_deadbeef.ysim")
		Expect(os.WriteFile(data, []byte{0}, 0644)).To(Succeed())

		Expect(e.Cleanup(ctx)).To(Succeed())
		Expect(data).NotTo(BeAnExistingFile())
	})

	It("rejects a workspace without a project", func() {
		_, err := env.NewWorkspace(dir, "")
		Expect(err).To(MatchError(env.ErrEmptyProject))
	})

	It("writes analysis reports", func() {
		ws, err := env.NewWorkspace(dir, "demo")
		Expect(err).NotTo(HaveOccurred())
		at := time.Date(2024, 1, 31, 15, 45, 2, 0, time.UTC)
		path, err := ws.WriteAnalysis("memory", "abcd1234", "peak 1 MB", at)
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Base(path)).To(Equal("memory_20240131_154502_abcd1234.log"))
	})
})
