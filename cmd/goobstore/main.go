package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"

	"github.com/maloquacious/goobstore/internal/config"
	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/metrics"
	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/stack"
	"github.com/maloquacious/goobstore/internal/store"
	"github.com/maloquacious/goobstore/internal/store/binary"
	"github.com/maloquacious/goobstore/internal/store/memory"
	"github.com/maloquacious/goobstore/internal/store/sqlite"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	colorOK   = color.New(color.FgGreen)
	colorWarn = color.New(color.FgYellow)
	colorDim  = color.New(color.Faint)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ue := classify(err)
		fmt.Fprint(os.Stderr, ue.Format())
		stop()
		os.Exit(ue.ExitCode)
	}
}

type app struct {
	configPath  string
	logLevel    string
	noColor     bool
	showMetrics bool

	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Metrics
	stack   *stack.Stack
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "goobstore",
		Short:         "Open, migrate and erase goobstore stores",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "goobstore.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (error, warn, info, debug)")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print store metrics after the command")

	// inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect [store...]",
		Short: "Report each store's schema version and what opening it would do",
		RunE:  a.runInspect,
	}

	// open command
	var (
		options store.MigrationOptions
		async   bool
	)
	openCmd := &cobra.Command{
		Use:   "open <store>",
		Short: "Open a store, migrating or recreating it as its options allow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOpen(cmd, args[0], options, async)
		},
	}
	openCmd.Flags().Var(&options, "option", "extra migration option, may be repeated (recreate_on_model_mismatch, prevent_progressive_migration, allow_synchronous_lightweight_migration)")
	openCmd.Flags().BoolVar(&async, "async", false, "open asynchronously, allowing progressive migration")

	// erase command
	var confirm bool
	eraseCmd := &cobra.Command{
		Use:   "erase <store>",
		Short: "Delete every file of a store",
		Long: `Deletes the store's main file and its side files.

WARNING: This operation is destructive and cannot be undone!`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return inputError("you must pass --yes to confirm the erase", "goobstore erase "+args[0]+" --yes")
			}
			return a.runErase(cmd, args[0])
		},
	}
	eraseCmd.Flags().BoolVar(&confirm, "yes", false, "confirm the erase (required)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the goobstore version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "goobstore %s\n", version.String())
			if buildDate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", buildDate)
			}
			return nil
		},
	}

	for _, cmd := range []*cobra.Command{inspectCmd, openCmd, eraseCmd} {
		cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		}
		cmd.PostRun = func(cmd *cobra.Command, args []string) {
			if a.showMetrics {
				a.printMetrics(cmd.OutOrStdout())
			}
		}
	}

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if a.noColor {
			color.NoColor = true
		}
	}
	rootCmd.AddCommand(inspectCmd, openCmd, eraseCmd, versionCmd)
	return rootCmd
}

// setup loads the configuration and builds the stack.
func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return configError(err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	log, err := cfg.Logger(stderr)
	if err != nil {
		return configError(err)
	}
	engine, err := migration.NewEngine(cfg.Schema.Version, log)
	if err != nil {
		return configError(err)
	}
	a.cfg, a.log, a.metrics = cfg, log, metrics.New()
	a.stack, err = stack.New(engine,
		stack.WithLogger(log),
		stack.WithMetrics(a.metrics),
		stack.WithDriver(sqlite.New(log)),
		stack.WithDriver(binary.New(log)),
		stack.WithDriver(memory.New(log)),
	)
	return err
}

func (a *app) storeConfig(name string) (config.StoreConfig, error) {
	sc, ok := a.cfg.Store(name)
	if !ok {
		var names []string
		for _, s := range a.cfg.Stores {
			names = append(names, s.Configuration)
		}
		return sc, inputError(fmt.Sprintf("no store named %q", name), "configured stores: "+strings.Join(names, ", "))
	}
	return sc, nil
}

func (a *app) runInspect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	stores := a.cfg.Stores
	if len(args) > 0 {
		stores = nil
		for _, name := range args {
			sc, err := a.storeConfig(name)
			if err != nil {
				return err
			}
			stores = append(stores, sc)
		}
	}
	for _, sc := range stores {
		desc, err := sc.Descriptor()
		if err != nil {
			return err
		}
		local, ok := desc.(store.LocalStorage)
		if !ok {
			fmt.Fprintf(out, "%s (%s): transient, opens fresh at %s\n", sc.Configuration, sc.Kind, a.cfg.Schema.Version)
			continue
		}
		in, err := a.stack.Inspect(cmd.Context(), local)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s) %s\n", sc.Configuration, sc.Kind, colorDim.Sprint(in.Location))
		if !in.Exists {
			fmt.Fprintf(out, "  missing, will be created at %s\n", in.Expected)
			continue
		}
		onDisk := in.OnDisk
		if onDisk == "" {
			onDisk = "?"
		}
		state := in.Mismatch.String()
		if in.Mismatch == store.Compatible {
			state = colorOK.Sprint(state)
		} else {
			state = colorWarn.Sprint(state)
		}
		fmt.Fprintf(out, "  on disk %s, expected %s: %s\n", onDisk, in.Expected, state)
		fmt.Fprintf(out, "  options: %s\n", local.MigrationOptions())
		fmt.Fprintf(out, "  open: %s, open --async: %s\n", in.Synchronous, in.Asynchronous)
	}
	return nil
}

func (a *app) runOpen(cmd *cobra.Command, name string, extra store.MigrationOptions, async bool) error {
	sc, err := a.storeConfig(name)
	if err != nil {
		return err
	}
	if extra != store.None {
		sc.MigrationOptions = append(sc.MigrationOptions, extra.String())
	}
	desc, err := sc.Descriptor()
	if err != nil {
		return err
	}

	var res *stack.Result
	if async {
		done := make(chan struct{})
		a.stack.AddStorage(cmd.Context(), desc, func(r *stack.Result, e error) {
			res, err = r, e
			close(done)
		})
		<-done
	} else {
		res, err = a.stack.AddStorageAndWait(cmd.Context(), desc)
	}
	if err != nil {
		return err
	}
	defer res.Close()

	how := res.Decision.String()
	if res.Created {
		how = "created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s at %s (%s)\n", colorOK.Sprint("opened"), name, res.SchemaVersion(), how)
	return nil
}

func (a *app) runErase(cmd *cobra.Command, name string) error {
	sc, err := a.storeConfig(name)
	if err != nil {
		return err
	}
	desc, err := sc.Descriptor()
	if err != nil {
		return err
	}
	local, ok := desc.(store.LocalStorage)
	if !ok {
		return inputError(fmt.Sprintf("store %q is %s and has no files", name, sc.Kind), "")
	}
	if err := a.stack.Erase(cmd.Context(), local); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", colorOK.Sprint("erased"), name, colorDim.Sprint(local.Location()))
	return nil
}

// printMetrics prints every counter sample that is non-zero.
func (a *app) printMetrics(w io.Writer) {
	if a.metrics == nil {
		return
	}
	families, err := a.metrics.Registry.Gather()
	if err != nil {
		a.log.Warn("gather metrics", "error", err)
		return
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			if value == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, colorDim.Sprint(line))
	}
}
