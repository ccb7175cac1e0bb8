// Package cli wires the mosaic pipeline to cobra commands.
package cli

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"frame-mosaic/internal/config"
	"frame-mosaic/internal/logging"
	"frame-mosaic/internal/version"
	"frame-mosaic/internal/vision"
	"frame-mosaic/internal/vision/cv"
	"frame-mosaic/internal/vision/native"
)

// BackendFactory builds a vision backend.
type BackendFactory func() vision.Backend

// DefaultBackends maps the configurable backend names to constructors.
func DefaultBackends() map[string]BackendFactory {
	return map[string]BackendFactory{
		"opencv": func() vision.Backend { return cv.New(cv.DefaultOptions()) },
		"native": func() vision.Backend { return native.New(native.DefaultOptions()) },
	}
}

// App is the state shared by all commands: the loaded configuration and
// the logger built from it.
type App struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	log      *slog.Logger
	backends map[string]BackendFactory
}

// NewRootCmd creates the root command with the default backends.
func NewRootCmd() *cobra.Command {
	return newRootCmd(DefaultBackends())
}

func newRootCmd(backends map[string]BackendFactory) *cobra.Command {
	app := &App{backends: backends}

	rootCmd := &cobra.Command{
		Use:   "mosaic",
		Short: "Build a panorama mosaic from a panning video",
		Long: `mosaic aligns consecutive video frames by feature matching and
composites them onto a growing canvas.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}
	rootCmd.SetVersionTemplate(version.String() + "\n")

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "configuration file (default $MOSAIC_CONFIG or ~/.config/frame-mosaic/config.json)")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "log format (text|json)")

	rootCmd.AddCommand(newStitchCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newJournalCmd(app))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (a *App) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return nil
}

func (a *App) backend(name string) (vision.Backend, error) {
	factory, ok := a.backends[name]
	if !ok {
		names := make([]string, 0, len(a.backends))
		for n := range a.backends {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, names)
	}
	return factory(), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
