package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/bart-task-go/internal/api"
	"github.com/MJE43/bart-task-go/internal/auth"
	"github.com/MJE43/bart-task-go/internal/config"
	"github.com/MJE43/bart-task-go/internal/export"
	"github.com/MJE43/bart-task-go/internal/metrics"
	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/scripting"
	"github.com/MJE43/bart-task-go/internal/sim"
	"github.com/MJE43/bart-task-go/internal/trials"
)

const shutdownTimeout = 5 * time.Second

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		addr  string
		paced bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the loopback session API",
		Long: `Start the HTTP API a presentation front end drives.

The API token comes from server.token, $BART_TOKEN, or the OS keychain
(see "bart token"). Without one, requests are not authenticated.`,
		Example: `  bart serve
  bart serve --addr 127.0.0.1:9000 --paced`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("paced") {
				cfg.Session.Paced = paced
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&paced, "paced", false, "Drive ready/advance from the server after the configured delays")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := auth.NewTokenStore(cfg.Server.KeyringService, cfg.Server.TokenFile)
	token, err := auth.Resolve(cfg.Server.Token, store)
	if err != nil {
		return fmt.Errorf("resolve api token: %w", err)
	}

	opts := api.Options{
		Sequence:       cfg.SequenceOptions(),
		Paced:          cfg.Session.Paced,
		Delays:         cfg.Session.Delays,
		Token:          token,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Metrics:        metrics.New(true),
	}
	if cfg.Log.Events {
		opts.SessionLogger = log.New(os.Stdout, "[SESSION] ", log.LstdFlags)
	}

	server := api.NewServer(opts)
	bound, err := server.Start(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	fmt.Printf("bart %s listening on http://%s\n", api.EngineVersion, bound)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// =============================================================================
// Sequence Command
// =============================================================================

func buildSequenceCmd() *cobra.Command {
	var (
		seed    int64
		order   string
		asJSON  bool
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Print the trial sequence with burst points",
		Long: `Print the 63-trial sequence a session would present. Burst points are
shown, so this is a researcher tool and must not be shown to participants.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts := cfg.SequenceOptions()
			if cmd.Flags().Changed("seed") {
				opts.Seed = seed
			}
			if order != "" {
				if opts.Order, err = trials.ParseOrder(order); err != nil {
					return err
				}
			}

			seq, err := trials.Build(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"options": opts, "trials": seq})
			}
			if summary {
				return printSequenceSummary(out, seq)
			}
			return printSequence(out, seq)
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Sequence seed (default session.seed)")
	cmd.Flags().StringVar(&order, "order", "", "shuffled or blocked (default session.order)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print per-type counts and mean burst points only")
	return cmd
}

func printSequence(w io.Writer, seq []trials.Trial) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tBLOCK\tBALLOON\tMAX\tBURST")
	for i, t := range seq {
		block := "main"
		if trials.IsPractice(i) {
			block = "tutorial"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", i, block, t.Type, t.Type.MaxPumps(), t.BurstPoint)
	}
	return tw.Flush()
}

func printSequenceSummary(w io.Writer, seq []trials.Trial) error {
	sums := map[trials.BalloonType]int{}
	for _, t := range seq {
		sums[t.Type] += t.BurstPoint
	}
	counts := trials.CountByType(seq)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BALLOON\tCOUNT\tMEAN BURST")
	for _, b := range trials.Balloons() {
		n := counts[b.Type]
		if n == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\n", b.Type, n, float64(sums[b.Type])/float64(n))
	}
	return tw.Flush()
}

// =============================================================================
// Simulate Command
// =============================================================================

func buildSimulateCmd() *cobra.Command {
	var (
		strategy     string
		scriptPath   string
		participants int
		workers      int
		seed         int64
		order        string
		params       map[string]string
		asJSON       bool
		exportDir    string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run scripted participants and aggregate their scores",
		Long: `Run participants whose decisions come from a JavaScript strategy. A
strategy defines decide(trial) returning PUMP or COLLECT.

Built-in strategies: ` + strings.Join(scripting.ListStrategies(), ", "),
		Example: `  bart simulate --strategy adaptive --participants 50
  bart simulate --script my_strategy.js --param target=12 --export-dir out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			req := sim.Request{
				Strategy:     cfg.Sim.Strategy,
				Participants: cfg.Sim.Participants,
				Workers:      cfg.Sim.Workers,
				Seed:         cfg.Session.Seed,
				Order:        cfg.SequenceOptions().Order,
				ThinkTime:    cfg.Sim.ThinkTime,
				CallTimeout:  cfg.Sim.ScriptTimeout,
				Params:       parseParams(params),
				KeepRecords:  exportDir != "",
			}
			if strategy != "" {
				req.Strategy = strategy
			}
			if scriptPath != "" {
				src, err := os.ReadFile(scriptPath)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				req.Script = string(src)
			}
			if participants > 0 {
				req.Participants = participants
			}
			if workers > 0 {
				req.Workers = workers
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = seed
			}
			if order != "" {
				if req.Order, err = trials.ParseOrder(order); err != nil {
					return err
				}
			}

			logger := log.New(cmd.ErrOrStderr(), "[SIM] ", log.LstdFlags)
			batch := sim.NewBatch(sim.WithLogger(logger))
			res, err := batch.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			if exportDir != "" {
				if err := exportParticipants(exportDir, res.Participants); err != nil {
					return err
				}
				logger.Printf("exported participants=%d dir=%s", len(res.Participants), exportDir)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			return printSimSummary(out, res)
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Built-in strategy name (default sim.strategy)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Path to a strategy script; overrides --strategy")
	cmd.Flags().IntVarP(&participants, "participants", "n", 0, "Number of participants (default sim.participants)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent participants (default GOMAXPROCS)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Sequence seed shared by all participants; participant i seeds its strategy with seed+i")
	cmd.Flags().StringVar(&order, "order", "", "shuffled or blocked")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Strategy parameter key=value, exposed as params.key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "Write one results CSV per participant to this directory")
	return cmd
}

// parseParams converts flag values to numbers or booleans where they parse.
func parseParams(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out
}

func exportParticipants(dir string, participants []sim.Participant) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	for _, p := range participants {
		path := filepath.Join(dir, fmt.Sprintf("participant_%03d_%s.csv", p.Index, p.ID[:8]))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		werr := export.WriteCSV(f, p.Records, p.Scores)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
		if cerr != nil {
			return fmt.Errorf("close %s: %w", path, cerr)
		}
	}
	return nil
}

func printSimSummary(w io.Writer, res *sim.Result) error {
	fmt.Fprintf(w, "participants: %d  elapsed: %s\n\n", len(res.Participants), res.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tMIN\tMEAN\tMAX")
	for _, s := range res.Summary {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Key, fmtFloat(s.Min), fmtFloat(s.Mean), fmtFloat(s.Max))
	}
	return tw.Flush()
}

// =============================================================================
// Score Command
// =============================================================================

func buildScoreCmd() *cobra.Command {
	var (
		asJSON bool
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "score <results.csv>",
		Short: "Recompute scores from an exported results file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			parsed, err := export.ParseCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			scores := scoring.Compute(parsed.Records)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, map[string]any{"records": len(parsed.Records), "scores": scores}); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "records\t%d\n", len(parsed.Records))
				for _, item := range scores.Summary() {
					fmt.Fprintf(tw, "%s\t%s\n", item.Key, export.FormatNumber(item.Value))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if check {
				return compareSummary(parsed.Summary, scores.Summary())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Fail if the file's summary differs from the recomputed scores")
	return cmd
}

func compareSummary(stored, computed []scoring.SummaryItem) error {
	want := make(map[string]float64, len(computed))
	for _, item := range computed {
		want[item.Key] = item.Value
	}

	var mismatched []string
	for _, item := range stored {
		v, ok := want[item.Key]
		if !ok {
			continue
		}
		if export.FormatNumber(v) != export.FormatNumber(item.Value) {
			mismatched = append(mismatched, fmt.Sprintf("%s: file %s, computed %s",
				item.Key, export.FormatNumber(item.Value), export.FormatNumber(v)))
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("summary mismatch:\n  %s", strings.Join(mismatched, "\n  "))
	}
	return nil
}

// =============================================================================
// Token Commands
// =============================================================================

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the API token in the OS keychain",
	}
	cmd.AddCommand(buildTokenSetCmd(), buildTokenClearCmd())
	return cmd
}

func tokenStore() (*auth.TokenStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return auth.NewTokenStore(cfg.Server.KeyringService, cfg.Server.TokenFile), nil
}

func buildTokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store a token; generates one when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := tokenStore()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := store.Set(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "token stored")
				return nil
			}
			token, err := store.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func buildTokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := tokenStore()
			if err != nil {
				return err
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
			return nil
		},
	}
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := api.GetVersionInfo()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bart %s (commit: %s, built: %s)\n", info.EngineVersion, info.GitCommit, info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
