package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/backend"
	"github.com/xkilldash9x/scalpel-explorer/internal/browser"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/explorer"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
	"github.com/xkilldash9x/scalpel-explorer/internal/store"
)

const (
	shutdownTimeout = 15 * time.Second
	persistTimeout  = 30 * time.Second
)

// runStore persists finished runs.
type runStore interface {
	PersistRun(ctx context.Context, result *schemas.ExplorationResult) error
}

// exploreComponents holds the collaborators of one explore invocation.
type exploreComponents struct {
	Driver   schemas.Driver
	Adapters []schemas.BackendAdapter
	Store    runStore
	pools    []*pgxpool.Pool
}

// Shutdown closes the browser and database pools.
func (c *exploreComponents) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if c.Driver != nil {
		if err := c.Driver.Close(ctx); err != nil {
			observability.GetLogger().Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	for _, p := range c.pools {
		p.Close()
	}
}

// componentsFactory wires the collaborators; tests swap in a simulated app.
type componentsFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*exploreComponents, error)

func defaultComponentsFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*exploreComponents, error) {
	components := &exploreComponents{}

	if b := cfg.Backend(); b.Enabled {
		pool, err := pgxpool.New(ctx, b.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to backend database: %w", err)
		}
		components.pools = append(components.pools, pool)
		adapter, err := backend.NewPostgresAdapter(ctx, pool, b.Queries, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize backend adapter: %w", err)
		}
		components.Adapters = append(components.Adapters, adapter)
	}

	if db := cfg.Database(); db.URL != "" {
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.pools = append(components.pools, pool)
		runs, err := store.New(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if db.Migrate {
			if err := runs.EnsureSchema(ctx); err != nil {
				return components, err
			}
		}
		components.Store = runs
	}

	manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.Driver = manager
	return components, nil
}

// newExploreCmd creates the `explore` command.
func newExploreCmd(factory componentsFactory) *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore [start-urls...]",
		Short: "Explores a web application from the given start URLs",
		Long: `Explores a web application as a graph of UI states. Every state reached
is checked by the configured validators, and the resulting graph and issues
are written as a JSON or SARIF report.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			startURLs := normalizeStartURLs(args)

			logger.Info("Starting exploration",
				zap.Strings("start_urls", startURLs),
				zap.Int("max_depth", cfg.Explore().MaxDepth),
				zap.Int("max_states", cfg.Explore().MaxStates),
				zap.Int("concurrency", cfg.Explore().Concurrency),
				zap.String("isolation", cfg.Explore().Isolation),
			)

			components, err := factory(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize explore components: %w", err)
			}
			defer components.Shutdown()

			return runExplore(ctx, cmd.ErrOrStderr(), cfg, startURLs, components, logger)
		},
	}

	flags := exploreCmd.Flags()
	flags.IntP("max-depth", "d", 0, "Maximum number of actions from a start URL. (Overrides config/env)")
	flags.Int("max-states", 0, "Maximum number of distinct states. (Overrides config/env)")
	flags.IntP("concurrency", "j", 0, "Number of concurrent browser pages. (Overrides config/env)")
	flags.String("isolation", "", "Sibling isolation: 'fresh' or 'shared'. (Overrides config/env)")
	flags.Duration("timeout", 0, "Time budget for the whole run, e.g. 10m. (Overrides config/env)")
	flags.Duration("action-timeout", 0, "Timeout for a single action. (Overrides config/env)")
	flags.Bool("include-subdomains", false, "Follow subdomains of the start hosts. (Overrides config/env)")
	flags.StringSlice("exclude", nil, "Path globs that are never explored, e.g. '/admin/**'. (Overrides config/env)")
	flags.StringSlice("validators", nil, "Validators to run on every state. (Overrides config/env)")
	flags.StringSlice("viewport", nil, "Viewport as name:WIDTHxHEIGHT[:mobile]; repeatable. (Overrides config)")
	flags.Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	flags.StringP("format", "f", "", "Report format: 'json' or 'sarif'. (Overrides config/env)")
	flags.StringP("output", "o", "", "Report output path; stdout when unset. (Overrides config/env)")
	flags.String("fail-on", "", "Fail when an issue of this severity or worse is found. (Overrides config/env)")
	flags.String("database-url", "", "Postgres URL to store the run in. (Overrides config/env)")

	for name, key := range map[string]string{
		"max-depth":          "explore.max_depth",
		"max-states":         "explore.max_states",
		"concurrency":        "explore.concurrency",
		"isolation":          "explore.isolation",
		"timeout":            "explore.run_timeout",
		"action-timeout":     "explore.action_timeout",
		"include-subdomains": "explore.include_subdomains",
		"exclude":            "explore.exclude_paths",
		"validators":         "explore.validators",
		"headless":           "browser.headless",
		"format":             "report.format",
		"output":             "report.output",
		"fail-on":            "report.fail_on",
		"database-url":       "database.url",
	} {
		annotateFlag(flags, name, key)
	}
	return exploreCmd
}

// runExplore drives one run: explore, persist, report, then gate.
func runExplore(ctx context.Context, out io.Writer, cfg *config.Config, startURLs []string, components *exploreComponents, logger *zap.Logger) error {
	var opts []explorer.Option
	if len(components.Adapters) > 0 {
		opts = append(opts, explorer.WithAdapters(components.Adapters...))
	}
	engine, err := explorer.New(cfg, components.Driver, logger, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	events, unsubscribe := engine.Events().Subscribe(schemas.EventStateVisited, schemas.EventIssueFound)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logProgress(logger, events)
	}()

	result, runErr := engine.Explore(ctx, startURLs)
	unsubscribe()
	wg.Wait()
	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Error("Exploration ended with errors; the partial result is still reported", zap.Error(runErr))
	}

	if components.Store != nil {
		// Persist even when the run was cancelled.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err := components.Store.PersistRun(persistCtx, result)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to persist run %s: %w", result.Summary.RunID, err)
		}
		logger.Info("Run persisted", zap.String("run_id", result.Summary.RunID))
	}

	if err := writeReport(cfg.Report(), result, logger); err != nil {
		return err
	}
	printSummary(out, result)

	if runErr != nil {
		return runErr
	}
	return reporting.CheckThreshold(result.Issues, cfg.Report().FailOn)
}

func writeReport(rc config.ReportConfig, result *schemas.ExplorationResult, logger *zap.Logger) error {
	logger.Info("Generating report...", zap.String("format", rc.Format), zap.String("output_path", rc.Output))

	reporter, err := reporting.New(rc.Format, rc.Output, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	writeErr := reporter.Write(result)
	closeErr := reporter.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func logProgress(logger *zap.Logger, events <-chan schemas.Event) {
	for ev := range events {
		switch p := ev.Payload.(type) {
		case *schemas.StateNode:
			logger.Info("State visited",
				zap.String("url", p.State.URL),
				zap.String("viewport", p.State.Viewport),
				zap.Int("depth", p.Depth),
			)
		case *schemas.Issue:
			logger.Info("Issue found",
				zap.String("rule", p.Rule),
				zap.String("severity", string(p.Severity)),
				zap.String("state_id", p.StateID),
			)
		}
	}
}

func printSummary(out io.Writer, result *schemas.ExplorationResult) {
	s := result.Summary
	fmt.Fprintf(out, "\nExploration complete. Run ID: %s\n", s.RunID)
	fmt.Fprintf(out, "  States: %d explored, %d discovered, %d dropped\n", s.StatesExplored, s.StatesDiscovered, s.DroppedStates)
	fmt.Fprintf(out, "  Actions: %d performed, %d failed\n", s.ActionsPerformed, s.FailedActions)
	if s.FailedRoots > 0 {
		fmt.Fprintf(out, "  Unreachable start URLs: %d\n", s.FailedRoots)
	}
	fmt.Fprintf(out, "  Issues: %d", s.IssuesFound)
	counts := reporting.CountBySeverity(result.Issues)
	for _, sev := range []schemas.Severity{schemas.SeverityCritical, schemas.SeveritySerious, schemas.SeverityModerate, schemas.SeverityMinor} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(out, ", %s %d", sev, n)
		}
	}
	fmt.Fprintf(out, "\n  Stopped: %s after %s\n", s.TerminationReason, time.Duration(s.DurationMs)*time.Millisecond)
}

// normalizeStartURLs assumes https for bare hosts.
func normalizeStartURLs(args []string) []string {
	urls := make([]string, len(args))
	for i, a := range args {
		a = strings.TrimSpace(a)
		if !strings.HasPrefix(a, "http://") && !strings.HasPrefix(a, "https://") {
			a = "https://" + a
		}
		urls[i] = a
	}
	return urls
}
