package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/ibge"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/inep"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/mte"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/transparencia"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/tse"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector/urban"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/db"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/env"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/orchestrator"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Territorial-intelligence ingestion runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newBackfillCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runtime bundles everything a connector invocation needs.
type runtime struct {
	settings *config.Settings
	storage  *store.Storage
	engine   *connector.Engine
	runners  []connector.Runner
	log      *logger.Logger
	close    func()
}

func buildRuntime(timeoutSeconds, maxRetries int) (*runtime, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	if timeoutSeconds > 0 {
		settings.RequestTimeoutSeconds = timeoutSeconds
	}
	if maxRetries >= 0 {
		settings.HTTPMaxRetries = maxRetries
	}

	appLogger := logger.New(logger.ParseLevel(env.GetString("LOG_LEVEL", "info")))

	pool, err := db.New(settings.DatabaseURL, settings.DBMaxOpen, settings.DBMaxIdle, settings.DBMaxIdleAge)
	if err != nil {
		return nil, err
	}

	storage := store.NewStorage(pool)
	client := fetch.NewClient(settings.RequestTimeoutSeconds, settings.HTTPMaxRetries, settings.HTTPBackoffSeconds, appLogger)
	bronzeStore := bronze.NewStore(settings.BronzeDir())
	engine := connector.NewEngine(storage, client, bronzeStore, settings, appLogger)

	var runners []connector.Runner
	runners = append(runners,
		ibge.New(engine),
		tse.NewElectorate(engine),
		tse.NewResults(engine),
		inep.New(engine),
		mte.New(engine),
		transparencia.New(engine),
		urban.New(engine),
	)
	for _, def := range connector.BuiltinDefinitions(settings) {
		runners = append(runners, connector.DefinitionRunner{Engine: engine, Def: def})
	}

	return &runtime{
		settings: settings,
		storage:  storage,
		engine:   engine,
		runners:  runners,
		log:      appLogger,
		close:    func() { pool.Close() },
	}, nil
}

func (rt *runtime) runnerFor(job string) (connector.Runner, bool) {
	for _, r := range rt.runners {
		if r.JobName() == job {
			return r, true
		}
	}
	return nil, false
}

func newRunCmd() *cobra.Command {
	var (
		period         string
		dryRun         bool
		timeoutSeconds int
		maxRetries     int
	)

	cmd := &cobra.Command{
		Use:   "run <job_name>",
		Short: "Run a single connector for one reference period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(timeoutSeconds, maxRetries)
			if err != nil {
				return err
			}
			defer rt.close()

			runner, ok := rt.runnerFor(args[0])
			if !ok {
				return fmt.Errorf("unknown job %q", args[0])
			}

			result := runner.Run(cmd.Context(), period, connector.RunOptions{DryRun: dryRun})

			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))

			if result.Status == store.StatusFailed {
				return fmt.Errorf("run %s finished with status failed", result.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "reference period (YYYY)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview indicators without writing")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "override request timeout")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "override HTTP retry count")
	cmd.MarkFlagRequired("period")

	return cmd
}

func newBackfillCmd() *cobra.Command {
	opts := orchestrator.Options{}
	var timeoutSeconds, maxRetries int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Plan and run an incremental backfill across connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(timeoutSeconds, maxRetries)
			if err != nil {
				return err
			}
			defer rt.close()

			opts.TimeoutSeconds = timeoutSeconds
			orch := orchestrator.New(rt.storage, rt.runners, rt.log)
			report, err := orch.Backfill(cmd.Context(), opts)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))

			if report.ExitCode != 0 {
				os.Exit(report.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Periods, "periods", nil, "reference periods (YYYY), comma separated")
	cmd.Flags().StringSliceVar(&opts.Jobs, "jobs", nil, "restrict to these jobs")
	cmd.Flags().StringSliceVar(&opts.ExcludeJobs, "exclude-jobs", nil, "remove these jobs from the selection")
	cmd.Flags().StringSliceVar(&opts.ReprocessJobs, "reprocess-jobs", nil, "always re-execute these jobs")
	cmd.Flags().StringSliceVar(&opts.ReprocessPeriods, "reprocess-periods", nil, "always re-execute these periods")
	cmd.Flags().BoolVar(&opts.IncludePartial, "include-partial", false, "include partially implemented connectors")
	cmd.Flags().BoolVar(&opts.SkipDBT, "skip-dbt", false, "skip the dbt post-load job")
	cmd.Flags().BoolVar(&opts.SkipQuality, "skip-quality", false, "skip the quality-suite post-load job")
	cmd.Flags().IntVar(&opts.StaleAfterHours, "stale-after-hours", 168, "re-execute successful runs older than this")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "execute every selected pair regardless of history")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan only, execute nothing")
	cmd.Flags().BoolVar(&opts.AllowBlocked, "allow-blocked", false, "treat blocked runs as accepted for the exit code")
	cmd.Flags().BoolVar(&opts.AllowGoverned, "allow-governed-sources", false, "include governed connectors")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "per-connector wall clock budget")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "override HTTP retry count")
	cmd.Flags().StringVar(&opts.OutputJSON, "output-json", "", "write the report to this path")
	cmd.MarkFlagRequired("periods")

	return cmd
}
