package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/UynajGI/yuusim/internal/automation"
	"github.com/UynajGI/yuusim/internal/compress"
	"github.com/UynajGI/yuusim/internal/config"
	"github.com/UynajGI/yuusim/internal/env"
	"github.com/UynajGI/yuusim/internal/experiment"
	"github.com/UynajGI/yuusim/internal/export"
	"github.com/UynajGI/yuusim/internal/logging"
	"github.com/UynajGI/yuusim/internal/perf"
	"github.com/UynajGI/yuusim/internal/persist"
	"github.com/UynajGI/yuusim/internal/viz"
)

var (
	logLevel  string
	logFormat string
	logFile   string

	outputDir string
	storeKind string
	dbPath    string
	redisAddr string
	compAlg   string

	configFile  string
	preset      string
	project     string
	workers     int
	mode        string
	timeout     string
	taskTimeout string
	hardKill    bool
	force       bool
	progress    bool
	runPlot     bool
	showPlot    bool
	svg         bool
	profile     bool

	exportOut string
	keepData  bool
	keepLogs  bool
	hash      string
)

var logger *logging.Logger

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "yuusim",
		Short:         "parallel simulation runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.New(os.Stderr, logging.Options{
				Level:  logLevel,
				Format: logFormat,
				File:   logFile,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logger != nil {
				return logger.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, success, warning, error, critical)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also log to a rotating file")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", ".", "workspace root")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "file", "result store (file, sqlite, redis)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "yuusim.db", "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	rootCmd.PersistentFlags().StringVar(&compAlg, "compression", "", "snapshot compression (none, gzip, lz4, zstd)")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a model over its parameter grid",
		Args:  cobra.ExactArgs(1),
		RunE:  runProject,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json, toml, hcl)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().StringVar(&project, "project", "", "project name (default: model)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "worker count (0: all CPUs)")
	runCmd.Flags().StringVar(&mode, "mode", "", "execution mode (parallel or sequential)")
	runCmd.Flags().StringVar(&timeout, "timeout", "", "overall run timeout")
	runCmd.Flags().StringVar(&taskTimeout, "task-timeout", "", "per-task timeout")
	runCmd.Flags().BoolVar(&hardKill, "hard-kill", false, "abandon tasks that ignore cancellation")
	runCmd.Flags().BoolVar(&force, "force", false, "rerun even if results for this configuration exist")
	runCmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	runCmd.Flags().BoolVar(&runPlot, "plot", false, "plot task durations")
	runCmd.Flags().BoolVar(&svg, "svg", true, "write a duration chart to figures/svg")
	runCmd.Flags().BoolVar(&profile, "profile", false, "measure one call first and write it to analysis/")

	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "print the parameter sets a config expands to",
		RunE:  printGrid,
	}
	gridCmd.Flags().StringVar(&configFile, "config", "", "config file")
	gridCmd.Flags().StringVar(&project, "project", "", "project the hash is computed for")

	listCmd := &cobra.Command{
		Use:   "list [project]",
		Short: "list stored runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [project]",
		Short: "show the latest run of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
	showCmd.Flags().BoolVar(&showPlot, "plot", true, "plot task durations")

	exportCmd := &cobra.Command{
		Use:   "export [project]",
		Short: "export the latest run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")

	profileCmd := &cobra.Command{
		Use:   "profile [model]",
		Short: "measure one call of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  profileModel,
	}
	profileCmd.Flags().StringVar(&configFile, "config", "", "config file")
	profileCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	profileCmd.Flags().StringVar(&project, "project", "", "write the profile to this project's analysis folder")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models and presets",
		RunE:  listModels,
	}

	batchCmd := &cobra.Command{
		Use:   "batch [scenario]",
		Short: "run a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup [project]",
		Short: "clean a project workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  cleanupProject,
	}
	cleanupCmd.Flags().BoolVar(&keepData, "keep-data", true, "keep data files")
	cleanupCmd.Flags().BoolVar(&keepLogs, "keep-logs", true, "keep log files")
	cleanupCmd.Flags().StringVar(&hash, "hash", "", "keep files belonging to this config hash")

	rootCmd.AddCommand(runCmd, gridCmd, listCmd, showCmd, exportCmd, profileCmd, modelsCmd, batchCmd, cleanupCmd)
	return rootCmd
}

func runProject(cmd *cobra.Command, args []string) error {
	model := args[0]
	ctx := cmd.Context()

	step := automation.Step{
		Project:     project,
		Model:       model,
		Config:      configFile,
		Preset:      preset,
		Workers:     workers,
		Mode:        mode,
		Timeout:     timeout,
		TaskTimeout: taskTimeout,
		HardKill:    hardKill,
		Force:       force,
		Profile:     profile,
	}
	if configFile == "" && preset == "" {
		step.System = map[string]any{}
	}

	runner := newRunner()

	var res automation.StepResult
	if progress {
		file, err := step.File()
		if err != nil {
			return err
		}
		total := len(file.ParameterSets(config.DefaultLogBase))
		err = viz.RunProgress(ctx, os.Stderr, model, total, func(report func(done, total int)) error {
			runner.Progress = report
			res = runner.RunStep(ctx, step)
			return res.Err
		})
		if err != nil {
			return err
		}
	} else {
		res = runner.RunStep(ctx, step)
		if res.Err != nil {
			return res.Err
		}
	}

	if res.Skipped {
		fmt.Println("results for this configuration already exist (use --force to rerun)")
		return nil
	}

	out := res.Outcome
	name := step.Project
	if name == "" {
		name = model
	}
	fmt.Println(viz.RenderReport(fmt.Sprintf("%s · %s", name, out.Name), out.Report))
	if len(out.Failures) > 0 {
		fmt.Println(viz.RenderFailures(out.Failures, 10))
	}
	if out.Profile != nil {
		fmt.Printf("profile of the first parameter set:\n%s\n", out.Profile)
		if out.Analysis != "" {
			fmt.Printf("written to %s\n", out.Analysis)
		}
	}
	if runPlot {
		if p := viz.DurationPlot(out.Results); p != "" {
			fmt.Println(p)
		}
	}

	if svg && outputDir != "" && len(out.Results) > 0 {
		ws, err := env.NewWorkspace(outputDir, name)
		if err != nil {
			return err
		}
		path := filepath.Join(ws.Figures("svg"), out.Name+".svg")
		if err := export.DurationsSVGFile(path, out.Results); err != nil {
			return err
		}
		logger.Debug("duration chart written", "path", path)
	}
	return nil
}

func printGrid(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		return fmt.Errorf("--config is required")
	}
	file, err := config.Load(configFile)
	if err != nil {
		return err
	}

	sets := file.ParameterSets(config.DefaultLogBase)
	fmt.Printf("%d parameter sets, hash %s\n", len(sets), file.Hash(project))
	for i, set := range sets {
		fmt.Printf("%4d  %v\n", i, set)
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var projects []string
	if len(args) == 1 {
		projects = args
	} else {
		fs, ok := store.(*persist.FileStore)
		if !ok {
			return fmt.Errorf("listing all projects needs the file store; name a project")
		}
		if projects, err = fs.Projects(); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tRUN\tHASH\tTIME\tTASKS\tCOMP\tSIZE")

	found := 0
	for _, p := range projects {
		metas, err := store.List(cmd.Context(), p)
		if err != nil {
			return err
		}
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				m.Project,
				shortID(m.RunID),
				m.ConfigHash,
				humanize.Time(m.CreatedAt),
				m.Tasks,
				m.Compression,
				humanize.Bytes(uint64(m.Size)),
			)
			found++
		}
	}
	if found == 0 {
		fmt.Println("no runs found")
		return nil
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	snap, err := loadLatest(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	units := snap.Units()
	report := perf.FromUnits(units)
	fmt.Println(viz.RenderReport(fmt.Sprintf("%s · %s", snap.Project, snap.Name()), report))
	fmt.Printf("run %s, %s mode, %d workers, %s\n",
		snap.RunID, snap.Mode, snap.Workers, snap.CreatedAt.Local().Format(time.DateTime))
	if f := viz.RenderFailures(units, 10); f != "" {
		fmt.Println(f)
	}
	if showPlot {
		if p := viz.DurationPlot(units); p != "" {
			fmt.Println(p)
		}
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	snap, err := loadLatest(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if exportOut == "" {
		return persist.ExportJSON(os.Stdout, snap)
	}
	if err := persist.ExportJSONFile(exportOut, snap); err != nil {
		return err
	}
	fmt.Printf("exported %d tasks to %s\n", len(snap.Tasks), exportOut)
	return nil
}

func profileModel(cmd *cobra.Command, args []string) error {
	model := args[0]

	fn, err := experiment.NewRegistry().GetFunc(model)
	if err != nil {
		return err
	}
	step := automation.Step{Model: model, Config: configFile, Preset: preset}
	if configFile == "" && preset == "" {
		step.System = map[string]any{}
	}
	file, err := step.File()
	if err != nil {
		return err
	}

	sets := file.ParameterSets(config.DefaultLogBase)
	if len(sets) == 0 {
		return fmt.Errorf("configuration yields no parameter sets")
	}

	p := perf.Measure(cmd.Context(), fn, sets[0])
	body := fmt.Sprintf("model: %s\nparams: %v\n%s\n", model, sets[0], p)
	fmt.Print(body)

	if project != "" {
		ws, err := env.NewWorkspace(outputDir, project)
		if err != nil {
			return err
		}
		// Same hash a run of this configuration in project is stored under.
		path, err := ws.WriteAnalysis("profile", file.Hash(project), body, time.Now())
		if err != nil {
			return err
		}
		logging.Success(cmd.Context(), logger.Logger, "profile written", "path", path)
	}
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	registry := experiment.NewRegistry()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPRESETS\tDESCRIPTION")
	for _, name := range registry.ListModels() {
		presets := strings.Join(config.ListPresets(name), ", ")
		if presets == "" {
			presets = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, presets, registry.Describe(name))
	}
	return w.Flush()
}

func runBatch(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	if sc.Name != "" {
		fmt.Printf("Scenario: %s\n", sc.Name)
	}
	if sc.Description != "" {
		fmt.Println(sc.Description)
	}

	runner := newRunner()
	results, err := runner.RunScenario(cmd.Context(), sc)

	ran, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Err == nil:
			ran++
		}
	}
	fmt.Printf("%d of %d steps completed, %d skipped\n", ran, len(sc.Steps), skipped)
	return err
}

func cleanupProject(cmd *cobra.Command, args []string) error {
	ws, err := env.NewWorkspace(outputDir, args[0])
	if err != nil {
		return err
	}
	if err := ws.Clean(keepData, keepLogs, hash); err != nil {
		return err
	}
	fmt.Printf("cleaned %s\n", ws.Root())
	return nil
}

func newRunner() *automation.Runner {
	return &automation.Runner{
		Registry:  experiment.NewRegistry(),
		Output:    outputDir,
		OpenStore: openStore,
		Logger:    logger.Logger,
		Out:       os.Stdout,
	}
}

func openStore() (persist.Store, error) {
	var alg compress.Algorithm
	if compAlg != "" {
		var err error
		if alg, err = compress.ParseAlgorithm(compAlg); err != nil {
			return nil, err
		}
	}
	return persist.Open(persist.Options{
		Kind:        storeKind,
		Dir:         filepath.Join(outputDir, "simulations"),
		Subdir:      env.DirData,
		Path:        dbPath,
		RedisAddr:   redisAddr,
		Compression: alg,
	})
}

func loadLatest(ctx context.Context, name string) (*persist.Snapshot, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(ctx, name)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
