//go:build !lambda

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"armory-planner/internal/allocator"
	"armory-planner/internal/cost"
	"armory-planner/internal/history"
	"armory-planner/internal/report"
	"armory-planner/internal/server"
)

type rootFlags struct {
	config  string
	verbose bool
	json    bool
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "armory",
		Short:         "Spend a point budget on weapon and jade upgrades",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&rf.config, "config", "", "YAML config file")
	pf.BoolVar(&rf.verbose, "verbose", false, "Log every committed step to stderr")
	pf.BoolVar(&rf.json, "json", false, "Output results as JSON")
	pf.String("catalog", "", "Cost catalog YAML (default: built-in tables)")
	pf.String("log-level", "info", "Log level")
	pf.Bool("log-development", false, "Human-readable console logs")
	pf.String("history", "", "SQLite run archive (empty disables recording)")
	pf.Int("weapon-lead", 5, "Default weapon lead between adjacent troops")
	pf.Int("jade-lead", 2, "Default jade lead between adjacent troops")
	pf.Int("jade-percent", 40, "Default jade/weapon ratio in percent")
	pf.Bool("enforce-ratio", true, "Hold weapons back while jade trails the ratio")

	root.AddCommand(
		newAllocateCmd(&rf),
		newPlanCmd(&rf),
		newLevelsCmd(&rf),
		newServeCmd(&rf),
		newHistoryCmd(&rf),
	)
	return root
}

func (rf *rootFlags) app(cmd *cobra.Command) (*app, error) {
	return newApp(rf.config, cmd.Flags(), rf.verbose)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── allocate ────────────────────────────────────────────────────────

func newAllocateCmd(rf *rootFlags) *cobra.Command {
	var xlsxPath string
	var steps bool
	cmd := &cobra.Command{
		Use:   "allocate <request.json|->",
		Short: "Run the greedy allocator over a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rf.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := readRequest(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			resp, err := a.svc.Allocate(cmd.Context(), raw)
			if err != nil {
				return err
			}
			cat := a.svc.Catalog()

			if xlsxPath != "" {
				err := writeFile(xlsxPath, func(w io.Writer) error {
					return report.WriteResultXLSX(w, resp.Result, cat)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s\n", xlsxPath)
			}

			out := cmd.OutOrStdout()
			if rf.json {
				return encodeJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Report)
			if steps {
				fmt.Fprintln(out, report.FormatSteps(resp.Result, cat))
			}
			printTable(out, resp.Result, cat)
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write an Excel workbook")
	cmd.Flags().BoolVar(&steps, "steps", false, "Print every committed step")
	return cmd
}

func printTable(w io.Writer, res allocator.Result, cat *cost.Catalog) {
	fmt.Fprintf(w, "%-24s %-8s %12s %12s %6s\n", "Item", "Track", "From", "To", "Gain")
	fmt.Fprintf(w, "%-24s %-8s %12s %12s %6s\n", "------------------------", "--------", "------------", "------------", "------")
	gained := 0
	for _, it := range res.Items {
		gained += it.To - it.From
		fmt.Fprintf(w, "%-24s %-8s %12s %12s %6d\n", it.Name, it.Track,
			shortLabel(cat, it.Track, it.From), shortLabel(cat, it.Track, it.To), it.To-it.From)
	}
	fmt.Fprintf(w, "%-24s %-8s %12s %12s %6s\n", "------------------------", "--------", "------------", "------------", "------")
	fmt.Fprintf(w, "%-24s %-8s %12.1f %12.1f %6d\n", "TOTAL", res.Stop, res.Spent, res.Remaining, gained)
}

func shortLabel(cat *cost.Catalog, track string, level int) string {
	t, err := cat.Track(track)
	if err != nil {
		return strconv.Itoa(level)
	}
	if level < 0 || level > t.Ladder().Max() {
		return strconv.Itoa(level)
	}
	return t.Ladder().Rungs()[level].Key
}

// ── plan ────────────────────────────────────────────────────────────

func newPlanCmd(rf *rootFlags) *cobra.Command {
	var xlsxPath string
	cmd := &cobra.Command{
		Use:   "plan <request.json|->",
		Short: "Price the request's upgrade targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rf.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := readRequest(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			resp, err := a.svc.Plan(cmd.Context(), raw)
			if err != nil {
				return err
			}
			if xlsxPath != "" {
				err := writeFile(xlsxPath, func(w io.Writer) error {
					return report.WritePlanXLSX(w, resp.Plan, a.svc.Catalog())
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s\n", xlsxPath)
			}

			out := cmd.OutOrStdout()
			if rf.json {
				return encodeJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Report)
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write an Excel workbook")
	return cmd
}

// ── levels ──────────────────────────────────────────────────────────

func newLevelsCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "levels [track]",
		Short: "List the level ladder of one or every track",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rf.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cat := a.svc.Catalog()
			tracks := cat.Tracks()
			if len(args) == 1 {
				t, err := cat.Track(args[0])
				if err != nil {
					return err
				}
				tracks = []*cost.Track{t}
			}

			out := cmd.OutOrStdout()
			if rf.json {
				all := map[string]any{}
				for _, t := range tracks {
					all[t.Name()] = t.Ladder().Rungs()
				}
				return encodeJSON(out, all)
			}
			rates := cat.Rates()
			for _, t := range tracks {
				fmt.Fprintf(out, "%s (%s)\n", t.Label(), t.Name())
				fmt.Fprintf(out, "%6s %-12s %-14s %10s\n", "Level", "Key", "Label", "Next")
				for _, r := range t.Ladder().Rungs() {
					next := "-"
					if step := t.StepCost(r.Level); r.Level < t.MaxLevel() && rates.Buyable(step) {
						next = strconv.FormatFloat(rates.Price(step), 'f', 1, 64)
					}
					fmt.Fprintf(out, "%6d %-12s %-14s %10s\n", r.Level, r.Key, r.Label, next)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

// ── serve ───────────────────────────────────────────────────────────

func newServeCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rf.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sc := a.cfg.Server
			srv := server.New(a.svc, server.Options{
				RateLimit:    sc.RateLimit,
				Burst:        sc.Burst,
				CacheTTL:     sc.CacheTTL,
				MaxBodyBytes: sc.MaxBodyBytes,
			}, a.log)
			a.log.Info("serving",
				zap.Float64("rateLimit", sc.RateLimit),
				zap.Duration("cacheTTL", sc.CacheTTL),
				zap.Bool("history", a.store != nil),
			)
			return srv.ListenAndServe(ctx, sc.Addr)
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "Listen address")
	f.Float64("rate-limit", 5, "Requests per second per client (0 disables)")
	f.Int("burst", 10, "Rate limiter burst")
	f.Duration("cache-ttl", 10*time.Minute, "Result cache lifetime (0 disables)")
	return cmd
}

// ── history ─────────────────────────────────────────────────────────

func newHistoryCmd(rf *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List archived runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rf.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid run id %q", args[0])
				}
				run, err := a.svc.Run(cmd.Context(), id)
				if err != nil {
					return err
				}
				return encodeJSON(out, run)
			}

			runs, err := a.svc.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if rf.json {
				return encodeJSON(out, runs)
			}
			printRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}

func printRuns(w io.Writer, runs []history.Run) {
	fmt.Fprintf(w, "%6s %-9s %-20s %-12s %6s %10s\n", "ID", "Kind", "Created", "Stop", "Steps", "Spent")
	for _, r := range runs {
		fmt.Fprintf(w, "%6d %-9s %-20s %-12s %6d %10.1f\n",
			r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Stop, r.Steps, r.Spent)
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
