// Package cmd provides the CLI commands for hybridrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/config"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/logging"
	"github.com/Aman-CERP/hybridrag/internal/profiling"
	"github.com/Aman-CERP/hybridrag/internal/ui"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// globalOptions holds persistent flags and per-invocation state shared by
// all subcommands.
type globalOptions struct {
	debug      bool
	configPath string
	noColor    bool
	profile    profiling.Targets

	profiler       *profiling.Session
	loggingCleanup func()

	loadOnce sync.Once
	cfg      *config.Config
	cfgErr   error
}

// config loads the effective configuration for the working directory once
// per invocation.
func (g *globalOptions) config() (*config.Config, error) {
	g.loadOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			g.cfgErr = err
			return
		}
		if g.configPath != "" {
			g.cfg, g.cfgErr = config.LoadFile(wd, g.configPath)
		} else {
			g.cfg, g.cfgErr = config.Load(wd)
		}
		if g.cfgErr != nil {
			g.cfgErr = rerrors.ConfigError(g.cfgErr.Error(), g.cfgErr).
				WithSuggestion("Check the config file or HYBRIDRAG_* variables, or run 'hybridrag config init'")
		}
	})
	return g.cfg, g.cfgErr
}

// indexDir resolves the index directory from a flag or the config.
func (g *globalOptions) indexDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := g.config()
	if err != nil {
		return "", err
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return cfg.IndexDir(wd), nil
}

func (g *globalOptions) colorDisabled() bool {
	return g.noColor || ui.DetectNoColor()
}

// NewRootCmd creates the root command for the hybridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "hybridrag",
		Short: "Hybrid dense + BM25 retrieval with reciprocal rank fusion",
		Long: `hybridrag builds a retrieval index over pre-chunked documents and
answers queries with semantic (embedding) search, keyword (BM25) search,
or both fused with Reciprocal Rank Fusion.

Build an index once with 'hybridrag build', then query it with
'hybridrag search' or expose it to agents with 'hybridrag serve'.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("hybridrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (also mirrors logs to stderr)")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file to use instead of .hybridrag.yaml")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return g.start(c)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return g.stop()
	}

	cmd.AddCommand(newBuildCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newInfoCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newLogsCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// start sets up logging and profiling before any subcommand runs. Logs go
// to the rotating file; --debug lowers the level and mirrors to stderr
// except for serve, whose stdio belongs to the protocol.
func (g *globalOptions) start(c *cobra.Command) error {
	level := "info"
	if cfg, err := g.config(); err == nil {
		level = cfg.Server.LogLevel
	}
	if g.debug {
		level = "debug"
	}

	logCfg := logging.ServeConfig(level)
	if g.debug && c.Name() != "serve" {
		logCfg.WriteToStderr = true
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup

	g.profiler, err = profiling.Start(g.profile)
	if err != nil {
		return err
	}
	slog.Debug("command_started", slog.String("command", c.CommandPath()), slog.String("version", version.Short()))
	return nil
}

// stop flushes profiles and closes the log file.
func (g *globalOptions) stop() error {
	err := g.profiler.Stop()
	g.profiler = nil
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// Execute runs the root command and prints any error in CLI form.
func Execute() error {
	cmd, g := newRootCmd()
	err := cmd.Execute()
	if err != nil {
		// PersistentPostRunE is skipped when RunE fails.
		_ = g.stop()
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), rerrors.FormatForCLI(err, g.debug))
	}
	return err
}
