package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/edustats"
)

// openApp builds the App for a command. Tests replace it.
var openApp = func(ctx context.Context, logger *slog.Logger, opts ...edustats.Option) (*edustats.App, error) {
	opts = append([]edustats.Option{edustats.WithLogger(logger), edustats.WithVersion(version)}, opts...)
	return edustats.New(ctx, opts...)
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "edustats",
		Short:         "Ingest standardized-test research files into a unified fact store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(logger),
		newStatusCmd(logger),
		newMigrateCmd(logger),
		newScoresCmd(logger),
		newCatalogCmd(logger),
	)
	return root
}

type ingestOptions struct {
	years       string
	latest      int
	last        int
	force       bool
	workers     int
	policy      string
	failOnError bool
}

func newIngestCmd(logger *slog.Logger) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, validate and load the requested years",
		Long: `Ingest runs the full pipeline for each requested year and prints a JSON
report. Years already committed are skipped unless --force is given; years
whose catalog sync is pending only re-run the sync.

Without --years or --latest the default window is the last
EDUSTATS_LAST_YEARS years ending with the previous calendar year.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), logger, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.years, "years", "", "Years to ingest, e.g. 2019,2021-2023")
	cmd.Flags().IntVar(&opts.latest, "latest", 0, "Most recent year of the window (with --last)")
	cmd.Flags().IntVar(&opts.last, "last", 0, "Number of years in the window ending at --latest")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Reload years that are already committed")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Years ingested in parallel (default EDUSTATS_WORKERS)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Upsert policy: replace or reload-year (default EDUSTATS_UPSERT_POLICY)")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "Exit 3 when any year does not end committed or skipped")
	cmd.MarkFlagsMutuallyExclusive("years", "latest")

	return cmd
}

func runIngest(ctx context.Context, logger *slog.Logger, out io.Writer, opts ingestOptions) error {
	years, err := requestedYears(opts.years, opts.latest, opts.last)
	if err != nil {
		return withCode(exitUsage, err)
	}

	var appOpts []edustats.Option
	if opts.workers > 0 {
		appOpts = append(appOpts, edustats.WithWorkers(opts.workers))
	}
	if opts.policy != "" {
		appOpts = append(appOpts, edustats.WithUpsertPolicy(opts.policy))
	}
	if opts.last > 0 && opts.latest == 0 {
		appOpts = append(appOpts, edustats.WithLastYears(opts.last))
	}

	app, err := openApp(ctx, logger, appOpts...)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	report, err := app.Ingest(ctx, edustats.IngestRequest{Years: years, Force: opts.force})
	if err != nil {
		return err
	}
	if err := writeJSON(out, report); err != nil {
		return err
	}
	if opts.failOnError && !report.OK() {
		return withCode(exitYearsFailed, fmt.Errorf("%d of %d years did not commit",
			len(report.Years)-report.Count(edustats.YearCommitted)-report.Count(edustats.YearSkipped), len(report.Years)))
	}
	return nil
}

func newStatusCmd(logger *slog.Logger) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest ingestion run per year",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			if year != 0 {
				run, ok, err := app.YearStatus(ctx, year)
				if err != nil {
					return err
				}
				if !ok {
					return withCode(exitUsage, fmt.Errorf("year %d has never been ingested", year))
				}
				return writeJSON(cmd.OutOrStdout(), run)
			}
			runs, err := app.Status(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Only this year")
	return cmd
}

func newMigrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			applied, err := app.Migrations(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"applied": applied})
		},
	}
}

type scoresOptions struct {
	year     int
	subject  string
	grade    string
	subgroup string
	entity   string
	limit    int
	offset   int
}

func newScoresCmd(logger *slog.Logger) *cobra.Command {
	var opts scoresOptions
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Query loaded score facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.filter()
			if err != nil {
				return withCode(exitUsage, err)
			}
			ctx := cmd.Context()
			app, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			scores, total, err := app.Scores(ctx, f)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"total":  total,
				"offset": f.Offset,
				"items":  scores,
			})
		},
	}
	cmd.Flags().IntVar(&opts.year, "year", 0, "Year key")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "Math or ELA")
	cmd.Flags().StringVar(&opts.grade, "grade", "", "Grade: 3-8, 11 or All")
	cmd.Flags().StringVar(&opts.subgroup, "subgroup", "", "Student group ID")
	cmd.Flags().StringVar(&opts.entity, "entity", "", "Entity key, e.g. cds:01-61119-0000000")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "Maximum rows")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Rows to skip")
	return cmd
}

func (o scoresOptions) filter() (edustats.ScoreFilter, error) {
	f := edustats.ScoreFilter{Limit: o.limit, Offset: o.offset}
	if o.limit < 0 || o.offset < 0 {
		return f, fmt.Errorf("--limit and --offset must not be negative")
	}
	if o.year != 0 {
		y := o.year
		f.YearKey = &y
	}
	if o.subject != "" {
		s, err := parseSubject(o.subject)
		if err != nil {
			return f, err
		}
		f.Subject = &s
	}
	if o.grade != "" {
		g := o.grade
		if strings.EqualFold(g, "all") {
			g = "All"
		}
		f.Grade = &g
	}
	if o.subgroup != "" {
		sg := o.subgroup
		f.Subgroup = &sg
	}
	if o.entity != "" {
		e := o.entity
		f.Entity = &e
	}
	return f, nil
}

func newCatalogCmd(logger *slog.Logger) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List reference catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := edustats.EntityKind(strings.ToLower(strings.TrimSpace(kind)))
			if k != "" && !k.Valid() {
				return withCode(exitUsage, fmt.Errorf("unknown --kind %q (location, subgroup, test, grade)", kind))
			}
			ctx := cmd.Context()
			app, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			entries, err := app.Catalog(ctx, k)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "location, subgroup, test or grade (default all)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
