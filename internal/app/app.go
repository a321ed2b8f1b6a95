package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"marketplace-repricer/internal/config"
	"marketplace-repricer/internal/dispatch"
	"marketplace-repricer/internal/engine"
	"marketplace-repricer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newDispatcher() (dispatch.Dispatcher, error) {
	if !a.Config.Queue.Enabled {
		a.Logger.Warn().Msg("queue disabled; sync tasks will not be dispatched")
		return dispatch.NopDispatcher{}, nil
	}
	return dispatch.NewNATSDispatcher(a.Config.Queue, a.Logger)
}

// ExecuteOptions configure one repricing run.
type ExecuteOptions struct {
	RuleID     string
	ListingIDs []string
	DryRun     bool
}

// Execute performs one repricing run and prints the per-item outcome.
func (a *App) Execute(ctx context.Context, opts ExecuteOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn not configured; cannot execute")
	}
	if closeStore != nil {
		defer closeStore()
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	controller := engine.NewController(store, store, store, dispatcher, a.Config.Repricing.BatchLimit, a.Logger)

	result, err := controller.Execute(ctx, engine.Request{
		RuleID:     opts.RuleID,
		ListingIDs: opts.ListingIDs,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return err
	}

	printResult(result, opts.DryRun)
	return nil
}

func printResult(result *engine.Result, dryRun bool) {
	if result.Count == 0 {
		fmt.Fprintln(os.Stdout, "no adjustments proposed")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Listing\tTitle\tOld\tNew\tChange%\tRule\tReason")
		for _, adj := range result.Adjustments {
			rule := adj.RuleID
			if rule == "" {
				rule = "-"
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				adj.ListingID,
				adj.Title,
				adj.OldPrice.StringFixed(2),
				adj.NewPrice.StringFixed(2),
				adj.ChangePercent.StringFixed(2),
				rule,
				adj.Reason,
			)
		}
		writer.Flush()
	}

	if dryRun {
		fmt.Fprintf(os.Stdout, "dry run: %d adjustment(s), nothing persisted\n", result.Count)
		return
	}

	fmt.Fprintf(os.Stdout, "applied: %d, skipped: %d, failed: %d\n",
		result.AppliedCount, result.SkippedCount, result.FailedCount())
	for _, f := range result.Failures {
		fmt.Fprintf(os.Stdout, "  failed %s: %s\n", f.ListingID, f.Reason)
	}
}

// ExportOptions hold parameters for exporting the price change history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
