package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"unitforge/internal/app"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags.
var (
	flagConfig     string
	flagUnitDir    string
	flagRecordsDir string
	flagBackend    string
	flagLogLevel   string
	flagJSON       bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unitforge",
	Short: "Author, install and operate systemd services",
	Long: `unitforge keeps one record per service, compiles it into a systemd unit
file and drives the service through install, start, stop and removal.

Records live in the records directory as JSON or YAML. Unit files are written
to the unit directory (default /etc/systemd/system).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"unitforge version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (default $XDG_CONFIG_HOME/unitforge/config.yaml)")
	pf.StringVar(&flagUnitDir, "unit-dir", "", "directory unit files are installed to")
	pf.StringVar(&flagRecordsDir, "records-dir", "", "directory holding service records")
	pf.StringVar(&flagBackend, "backend", "", "service manager backend: systemctl or dbus")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVar(&flagJSON, "json", false, "print results as JSON")
}

// openApp builds the app from the global flags. The caller must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{
		ConfigPath: flagConfig,
		UnitDir:    flagUnitDir,
		RecordsDir: flagRecordsDir,
		Backend:    flagBackend,
		LogLevel:   flagLogLevel,
	})
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
