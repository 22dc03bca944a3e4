package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"unitforge/internal/app"
	"unitforge/internal/model"
	"unitforge/internal/store"
	"unitforge/internal/unitfile"
	"unitforge/internal/validate"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Write a new service record with default settings",
	Long: `Create a service record in the records directory. Flags fill the most
common fields; edit the record afterwards for everything else.

Examples:
  unitforge create web --exec "/usr/local/bin/web --port 8080" --user www
  unitforge install web --enable`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var renderCmd = &cobra.Command{
	Use:   "render <name|record-file>",
	Short: "Print the unit file a record compiles to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, err := loadRecord(a.Records(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), unitfile.Compile(cfg))
			return err
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <name|record-file>",
	Short: "Check a record, and optionally the running unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime, _ := cmd.Flags().GetBool("runtime")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, err := loadRecord(a.Records(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			static := a.Validator().Static(cfg)
			out := map[string]any{"static": static}
			var rt *validate.RuntimeResult
			if runtime {
				res, err := a.Validator().Runtime(ctx, a.Manager(), cfg.Name)
				if err != nil {
					return err
				}
				rt = &res
				out["runtime"] = res
			}

			if flagJSON {
				if err := writeJSON(w, out); err != nil {
					return err
				}
			} else {
				if static.Valid {
					fmt.Fprintf(w, "%s: configuration is valid\n", cfg.Name)
				} else {
					fmt.Fprintf(w, "%s: configuration is invalid\n", cfg.Name)
				}
				writeValidationText(w, static)
				if rt != nil {
					writeRuntimeText(w, *rt)
				}
			}
			if !static.Valid || (rt != nil && !rt.Valid) {
				return errFailed
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			names, err := a.Records().List()
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		})
	},
}

func init() {
	defineCreateFlags(createCmd)
	validateCmd.Flags().Bool("runtime", false, "also query the service manager for state and logs")

	rootCmd.AddCommand(createCmd, renderCmd, validateCmd, listCmd)
}

func defineCreateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("exec", "", "command line to run (absolute executable path)")
	f.String("description", "", "unit description")
	f.String("user", "", "account the service runs as")
	f.String("group", "", "group the service runs as")
	f.String("workdir", "", "working directory")
	f.String("type", string(model.TypeSimple), "service type: simple, forking, oneshot, notify")
	f.String("restart", string(model.RestartNo), "restart policy: no, always, on-success, on-failure, on-abnormal, on-abort, on-watchdog")
	f.StringArray("env", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringArray("after", nil, "unit ordered before this one (repeatable)")
	f.Bool("force", false, "overwrite an existing record")
	_ = cmd.MarkFlagRequired("exec")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Records().Exists(cfg.Name) && !force {
			return fmt.Errorf("record %q already exists (use --force to overwrite)", cfg.Name)
		}
		vr := a.Validator().Static(cfg)
		writeValidationText(cmd.ErrOrStderr(), vr)
		if !vr.Valid {
			return vr.Err()
		}
		if err := a.Records().Put(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", a.Records().Path(cfg.Name))
		return nil
	})
}

// configFromFlags builds a configuration for name from create's flags.
func configFromFlags(cmd *cobra.Command, name string) (*model.ServiceConfiguration, error) {
	if err := validate.ValidateServiceName(name); err != nil {
		return nil, err
	}
	f := cmd.Flags()
	cfg := model.New(name)
	cfg.Service.ExecStart, _ = f.GetString("exec")
	cfg.Unit.Description, _ = f.GetString("description")
	cfg.Service.User, _ = f.GetString("user")
	cfg.Service.Group, _ = f.GetString("group")
	cfg.Service.WorkingDirectory, _ = f.GetString("workdir")
	cfg.Unit.After, _ = f.GetStringArray("after")

	typ, _ := f.GetString("type")
	st := model.ServiceType(strings.ToLower(strings.TrimSpace(typ)))
	if !st.Valid() {
		return nil, fmt.Errorf("--type %q: want one of %s", typ, joinNames(model.ServiceTypes))
	}
	cfg.Service.Type = st

	restart, _ := f.GetString("restart")
	rp := model.RestartPolicy(strings.ToLower(strings.TrimSpace(restart)))
	if !rp.Valid() {
		return nil, fmt.Errorf("--restart %q: want one of %s", restart, joinNames(model.RestartPolicies))
	}
	cfg.Service.Restart = rp

	env, _ := f.GetStringArray("env")
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--env %q: want KEY=VALUE", kv)
		}
		if cfg.Service.Environment == nil {
			cfg.Service.Environment = map[string]string{}
		}
		cfg.Service.Environment[k] = v
	}
	return cfg, nil
}

// saveAs writes cfg to an explicit record path (used by import --output).
func saveAs(cfg *model.ServiceConfiguration, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return store.Save(cfg, path)
}

func joinNames[T ~string](vals []T) string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return strings.Join(out, ", ")
}
