package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

type validateOpts struct {
	tablesDir       string
	departmentsFile string
	strict          bool
}

func newValidateCmd(configPath *string) *cobra.Command {
	var opts validateOpts

	cmd := &cobra.Command{
		Use:   "validate [table files...]",
		Short: "Validate rule tables and the departments file",
		Long: `Compiles every rule table in the tables directory (or the files given as
arguments) and checks that the departments file only references loaded tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("tables") {
				opts.tablesDir = cfg.Scoring.TablesDir
			}
			if !cmd.Flags().Changed("departments") {
				opts.departmentsFile = cfg.Scoring.DepartmentsFile
			}
			return runValidate(cmd.OutOrStdout(), opts, args, cfg.Scoring)
		},
	}

	cmd.Flags().StringVar(&opts.tablesDir, "tables", "", "Rule tables directory (default from config)")
	cmd.Flags().StringVar(&opts.departmentsFile, "departments", "", "Departments file (default from config)")
	cmd.Flags().BoolVar(&opts.strict, "strict", true, "Treat unparsable conditions as errors")
	return cmd
}

func runValidate(out io.Writer, opts validateOpts, files []string, scoringCfg domain.ScoringConfig) error {
	var (
		registry *rules.Registry
		err      error
	)
	if len(files) > 0 {
		registry, err = loadTableFiles(files, opts.strict)
	} else {
		registry, _, err = loadTables(opts.tablesDir, opts.strict)
	}
	if err != nil {
		return err
	}

	for _, name := range registry.Names() {
		ct, _ := registry.Get(name)
		fmt.Fprintf(out, "table %-16s ok  metrics=%d timeframes=%v\n", name, len(ct.Metrics), ct.Timeframes)
		for _, w := range ct.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
	}

	if opts.departmentsFile == "" {
		return nil
	}
	if _, err := os.Stat(opts.departmentsFile); err != nil {
		return fmt.Errorf("departments file: %w", err)
	}
	scoringCfg.DepartmentsFile = opts.departmentsFile
	stack, err := buildStack(registry, scoringCfg)
	if err != nil {
		return err
	}
	for _, d := range stack.set.Departments() {
		fmt.Fprintf(out, "department %-16s ok  kind=%s weight=%.2f\n", d.Name(), d.Kind(), d.Weight())
	}
	return nil
}

func loadTableFiles(paths []string, strict bool) (*rules.Registry, error) {
	registry := rules.NewRegistry(rules.CompileOptions{Strict: strict})
	tables := make([]*domain.RuleTable, 0, len(paths))
	for _, path := range paths {
		table, _, err := rules.LoadFile(path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if err := registry.Reload(tables); err != nil {
		return nil, err
	}
	return registry, nil
}
