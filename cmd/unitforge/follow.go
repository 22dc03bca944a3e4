package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"unitforge/internal/app"
	"unitforge/internal/follow"
	"unitforge/internal/monitor"
)

var followCmd = &cobra.Command{
	Use:   "follow <name>",
	Short: "Poll a service's state and logs until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			f := a.NewFollower(args[0])
			if err := f.Start(ctx); err != nil {
				return err
			}
			defer f.Stop()
			return printReports(cmd.OutOrStdout(), f.Reports(), count, flagJSON)
		})
	},
}

// printReports prints follower reports until the channel closes or count
// reports were printed (count <= 0 means unlimited).
func printReports(w io.Writer, reports <-chan follow.Report, count int, asJSON bool) error {
	n := 0
	var last string
	for rep := range reports {
		if asJSON {
			if err := writeJSON(w, rep); err != nil {
				return err
			}
		} else {
			stamp := rep.At.Local().Format(time.TimeOnly)
			if rep.Err != nil {
				fmt.Fprintf(w, "[%s] #%d %s: %v\n", stamp, rep.Seq, rep.Name, rep.Err)
			} else {
				fmt.Fprintf(w, "[%s] #%d ", stamp, rep.Seq)
				writeRuntimeText(w, rep.RuntimeResult)
				if rep.Logs != last {
					writeBlock(w, "logs", rep.Logs)
					last = rep.Logs
				}
			}
		}
		n++
		if count > 0 && n >= count {
			return nil
		}
	}
	return nil
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Sweep every managed service on a schedule and export metrics",
	Long: `Monitor runs the runtime check for every persisted service on the
configured schedule (monitor.schedule), warns once per alert window about
failed services and serves Prometheus metrics on monitor.metrics_addr.
Config file changes are applied without a restart.

With --once a single sweep is printed and the command exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !once {
				return a.RunMonitor(ctx)
			}
			mon, err := a.NewMonitor()
			if err != nil {
				return err
			}
			sum, err := mon.Sweep(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			writeSummaryText(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

func writeSummaryText(w io.Writer, sum monitor.Summary) {
	for _, rep := range sum.Services {
		line := fmt.Sprintf("%-24s %s", rep.Name, rep.State)
		if rep.Error != "" {
			line += "  " + rep.Error
		}
		fmt.Fprintln(w, line)
		for _, d := range rep.Diagnoses {
			fmt.Fprintf(w, "  diagnosis [%s]: %s\n", d.Code, d.Message)
		}
	}
	fmt.Fprintf(w, "%d services checked in %s\n", len(sum.Services), sum.Took.Round(time.Millisecond))
}

var historyCmd = &cobra.Command{
	Use:   "history [name]",
	Short: "Show recorded lifecycle operations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.History(ctx, target, limit)
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			writeHistoryText(cmd.OutOrStdout(), entries)
			return nil
		})
	},
}

func init() {
	followCmd.Flags().IntP("count", "n", 0, "stop after this many reports (0 = until interrupted)")
	monitorCmd.Flags().Bool("once", false, "run one sweep, print it and exit")
	historyCmd.Flags().Int("limit", 50, "maximum number of entries (0 = all)")

	rootCmd.AddCommand(followCmd, monitorCmd, historyCmd)
}
