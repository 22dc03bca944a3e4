package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"unitforge/internal/app"
	"unitforge/internal/lifecycle"
	"unitforge/internal/validate"
)

var installCmd = &cobra.Command{
	Use:   "install <name|record-file>",
	Short: "Validate a record, write its unit file and reload the manager",
	Long: `Install compiles a record into <unit-dir>/<name>.service, saves the record
and reloads the service manager. An invalid record is rejected before
anything is written.

Examples:
  unitforge install web
  unitforge install ./web.yaml --enable`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetBool("enable")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, err := loadRecord(a.Records(), args[0])
			if err != nil {
				return err
			}
			res := a.Orchestrator().Install(ctx, cfg, lifecycle.InstallOptions{Enable: enable})
			return printResult(cmd.OutOrStdout(), res, flagJSON)
		})
	},
}

// nameCommand builds a command that runs one named lifecycle operation.
func nameCommand(use, short string, op func(o *lifecycle.Orchestrator, ctx context.Context, name string) lifecycle.OperationResult) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.ValidateServiceName(args[0]); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printResult(cmd.OutOrStdout(), op(a.Orchestrator(), ctx, args[0]), flagJSON)
			})
		},
	}
}

var importCmd = &cobra.Command{
	Use:   "import <name>",
	Short: "Read an installed unit file back into a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, res := a.Orchestrator().Import(ctx, args[0])
			if err := printResult(cmd.OutOrStdout(), res, flagJSON); err != nil {
				return err
			}
			if output == "" {
				return nil
			}
			if err := saveAs(cfg, output); err != nil {
				return err
			}
			if !flagJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			}
			return nil
		})
	},
}

func init() {
	installCmd.Flags().Bool("enable", false, "enable the unit for its install targets")
	importCmd.Flags().StringP("output", "o", "", "also write the record to this file")

	rootCmd.AddCommand(
		installCmd,
		nameCommand("start", "Start a service unless it is already active", (*lifecycle.Orchestrator).Start),
		nameCommand("stop", "Stop a service unless it is already inactive", (*lifecycle.Orchestrator).Stop),
		nameCommand("restart", "Restart a service", (*lifecycle.Orchestrator).Restart),
		nameCommand("enable", "Enable a service for boot", (*lifecycle.Orchestrator).Enable),
		nameCommand("disable", "Disable a service for boot", (*lifecycle.Orchestrator).Disable),
		nameCommand("status", "Show state, enablement and recent logs", (*lifecycle.Orchestrator).Status),
		nameCommand("delete", "Stop, disable and remove a service's unit file and record", (*lifecycle.Orchestrator).Delete),
		importCmd,
	)
}
