package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/reporting"
	"github.com/clinica/turnos/internal/platform/db"
	"github.com/clinica/turnos/internal/platform/journal"
	"github.com/clinica/turnos/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "turnos-server",
		Short:        "Clinic appointment gateway",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server and its background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withApp loads the configuration, builds the app for one command and
// closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, newLogger(cfg.Env))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run write journal database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireDB(); err != nil {
					return err
				}
				count, err := db.NewMigrator(a.pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireDB(); err != nil {
					return err
				}
				statuses, err := db.NewMigrator(a.pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func slotsCmd() *cobra.Command {
	var (
		matricula    string
		especialidad int
		fecha        string
		hasta        string
		compare      bool
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print a doctor's bookable slots, optionally against the service of record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				from, err := availability.ParseDate(fecha, a.loc)
				if err != nil {
					return err
				}
				to := from
				if hasta != "" {
					if to, err = availability.ParseDate(hasta, a.loc); err != nil {
						return err
					}
				}
				ours, err := a.availability.AvailableRange(ctx, matricula, especialidad, from, to)
				if err != nil {
					return err
				}
				if !compare {
					return printJSON(cmd.OutOrStdout(), ours)
				}
				if hasta != "" && hasta != fecha {
					return fmt.Errorf("--compare works on a single day, drop --hasta")
				}
				theirs, err := a.availability.Offered(ctx, matricula, from)
				if err != nil {
					return err
				}
				drift := availability.Compare(especialidad, ours, theirs)
				if err := printJSON(cmd.OutOrStdout(), drift); err != nil {
					return err
				}
				if !drift.Empty() {
					return fmt.Errorf("%d slot(s) differ from the service of record", len(drift.Missing)+len(drift.Extra))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&matricula, "medico", "", "Doctor license number (matricula)")
	cmd.Flags().IntVar(&especialidad, "especialidad", 0, "Specialty id")
	cmd.Flags().StringVar(&fecha, "fecha", "", "Day, YYYY-MM-DD")
	cmd.Flags().StringVar(&hasta, "hasta", "", "Last day of a range, YYYY-MM-DD")
	cmd.Flags().BoolVar(&compare, "compare", false, "Diff against the slots the service of record offers")
	cmd.MarkFlagRequired("medico")
	cmd.MarkFlagRequired("especialidad")
	cmd.MarkFlagRequired("fecha")
	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Appointment reminder e-mails",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Send due reminders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.reminders.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	})
	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and settle the write journal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Settle writes whose outcome is unknown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.reconciler.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	})

	var outcome string
	list := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := journal.ParseOutcome(outcome)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				entries, total, err := a.journal.List(ctx, o, 100, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d entr(ies)\n", total)
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	list.Flags().StringVar(&outcome, "outcome", "unknown", "Filter by outcome, empty for all")
	cmd.AddCommand(list)

	return cmd
}

func reportCmd() *cobra.Command {
	var req reporting.Request
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an administrative report over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reporting.FindMeasure(req.Type) == nil {
				return fmt.Errorf("unknown report type %q", req.Type)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.reports.Evaluate(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVar(&req.Type, "type", "", "Report type: medico, especialidad, atendidos or asistencias")
	cmd.Flags().StringVar(&req.Desde, "desde", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Hasta, "hasta", "", "Last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Matricula, "medico", "", "Doctor license number, for the medico report")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("desde")
	cmd.MarkFlagRequired("hasta")
	return cmd
}
