package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

type scoreOpts struct {
	snapshotPath string
	outputFmt    string
	all          bool
}

func newScoreCmd(configPath *string) *cobra.Command {
	var opts scoreOpts

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score snapshots from a file and print the ranking",
		Long: `Reads a JSON object mapping entity ids to snapshots, scores every entity
against the configured rule tables and prints the ranked results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runScore(cmd.Context(), cmd.OutOrStdout(), cfg.Scoring, opts)
		},
	}

	cmd.Flags().StringVar(&opts.snapshotPath, "snapshot", "", "Path to the snapshots JSON file (required)")
	cmd.Flags().StringVar(&opts.outputFmt, "output", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Print every result instead of the filtered ranking")
	_ = cmd.MarkFlagRequired("snapshot")

	return cmd
}

func readSnapshots(path string) (map[string]domain.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	var snapshots map[string]domain.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("invalid snapshots file %s: %w", path, err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("snapshots file %s holds no entities", path)
	}
	return snapshots, nil
}

func runScore(ctx context.Context, out io.Writer, cfg domain.ScoringConfig, opts scoreOpts) error {
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format %q", opts.outputFmt)
	}
	snapshots, err := readSnapshots(opts.snapshotPath)
	if err != nil {
		return err
	}

	registry, _, err := loadTables(cfg.TablesDir, cfg.StrictConditions)
	if err != nil {
		return err
	}
	stack, err := buildStack(registry, cfg)
	if err != nil {
		return err
	}
	p := pipeline.New(stack.set, stack.engine, pipeline.Options{
		MaxWorkers: cfg.MaxWorkers,
		Stateless:  true,
	})

	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	reqs := make([]pipeline.Request, len(ids))
	for i, id := range ids {
		reqs[i] = pipeline.Request{EntityID: id, Snapshot: snapshots[id]}
	}

	results, err := p.ScoreUniverse(ctx, "cli", reqs, false)
	if err != nil {
		return err
	}
	if !opts.all {
		results = p.Rank(results)
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tENTITY\tMASTER\tDIRECTION\tSTRENGTH\tMISSING")
	for i, res := range results {
		fmt.Fprintf(tw, "%d\t%s\t%+.3f\t%s\t%s\t%d\n",
			i+1, res.EntityID, res.MasterScore, res.Direction, res.Strength, len(res.MissingDepartments))
	}
	return tw.Flush()
}
