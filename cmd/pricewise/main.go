// Command pricewise is the Pricewise operations CLI.
//
// Usage:
//
//	pricewise migrate
//	pricewise reconcile --workers 4 --timeout 5m
//	pricewise track https://www.amazon.com/dp/B0EXAMPLE
//	pricewise watch https://www.amazon.com/dp/B0EXAMPLE ann@example.com
//	pricewise products --json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/pricewise/internal/app"
	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/reconcile"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "pricewise",
		Short:         "Pricewise price tracking CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(trackCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(productsCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(nil, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				start := time.Now()
				if err := a.Store.Migrate(ctx); err != nil {
					return err
				}
				logger.Info("Schema applied", "driver", cfg.StorageDriver, "duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// reconcile command
// --------------------------------------------------------------------------

func reconcileCmd() *cobra.Command {
	var workers int
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh every tracked product and notify watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override := func(cfg *config.Config) {
				if workers > 0 {
					cfg.RunWorkers = workers
				}
				if timeout > 0 {
					cfg.RunTimeout = timeout
				}
			}
			return runWithApp(override, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				res, err := a.Runner.Run(ctx)
				if err != nil {
					return err
				}
				for _, f := range res.Failures {
					logger.Warn("product failed", "url", f.URL, "stage", f.Stage, "reason", f.Reason)
				}
				logger.Info("Reconciliation finished", "summary", res.Summary())
				return printJSON(runReport(res))
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent product tasks (default RUN_WORKERS)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall run deadline (default RUN_TIMEOUT_SECONDS)")
	return cmd
}

type report struct {
	RunID         string              `json:"run_id"`
	UpdatedCount  int                 `json:"updated_count"`
	NotifiedCount int                 `json:"notified_count"`
	Failures      []reconcile.Failure `json:"failures"`
	DurationMS    int64               `json:"duration_ms"`
}

func runReport(res *reconcile.Result) report {
	failures := res.Failures
	if failures == nil {
		failures = []reconcile.Failure{}
	}
	return report{
		RunID:         res.RunID,
		UpdatedCount:  len(res.Updated),
		NotifiedCount: res.Notified,
		Failures:      failures,
		DurationMS:    res.Duration.Milliseconds(),
	}
}

// --------------------------------------------------------------------------
// track / watch commands
// --------------------------------------------------------------------------

func trackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track <url>",
		Short: "Start tracking a product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(nil, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				p, err := a.Tracker.Track(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\t%s%s\t%s\n", p.ID, p.Title, p.Currency, p.CurrentPrice.StringFixed(2), p.URL)
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <url> <email>",
		Short: "Subscribe an email address to a product's price alerts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(nil, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				p, added, err := a.Tracker.Watch(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !added {
					fmt.Printf("%s already watches %q\n", args[1], p.Title)
					return nil
				}
				fmt.Printf("%s now watches %q (%d watchers)\n", args[1], p.Title, len(p.Watchers))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// products command
// --------------------------------------------------------------------------

func productsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List tracked products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(nil, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				all, err := a.Store.FindAll(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(all)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tCURRENT\tLOWEST\tHIGHEST\tSTOCK\tWATCHERS\tOBSERVATIONS")
				for _, p := range all {
					stock := "in"
					if !p.InStock {
						stock = "out"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
						p.ID, shorten(p.Title, 40),
						p.CurrentPrice.StringFixed(2), p.LowestPrice.StringFixed(2), p.HighestPrice.StringFixed(2),
						stock, len(p.Watchers), len(p.PriceHistory))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// runWithApp loads config, wires the application and runs fn. override may
// adjust the loaded config before wiring.
func runWithApp(override func(*config.Config), fn func(ctx context.Context, cfg *config.Config, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, cfg, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
