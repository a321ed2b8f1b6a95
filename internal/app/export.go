package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"marketplace-repricer/internal/storage"
)

// Default export window when --from is not given.
const defaultExportWindow = 30 * 24 * time.Hour

// Export renders the price change history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	changes, err := store.ListChangesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		a.Logger.Info().Msg("no price changes found for export window")
		return nil
	}

	downsampled := downsampleChanges(changes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(changes)).Int("exported", len(downsampled)).Msg("exporting price changes")

	if opts.CSVPath != "" {
		if err := writeChangesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeChangesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleChanges(changes []storage.PriceChangeLog, max int) []storage.PriceChangeLog {
	if max <= 0 || len(changes) <= max {
		return changes
	}

	result := make([]storage.PriceChangeLog, 0, max)
	step := float64(len(changes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(changes) {
			idx = len(changes) - 1
		}
		result = append(result, changes[idx])
	}
	return result
}

func writeChangesCSV(path string, changes []storage.PriceChangeLog) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "listing_id", "rule_id", "old_price", "new_price", "change_percent", "source", "reason", "platform_updated", "platform_error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, change := range changes {
		ruleID := ""
		if change.RuleID != nil {
			ruleID = *change.RuleID
		}
		platformErr := ""
		if change.PlatformError != nil {
			platformErr = *change.PlatformError
		}
		synced := "false"
		if change.PlatformUpdated {
			synced = "true"
		}
		record := []string{
			change.CreatedAt.Format(time.RFC3339),
			change.ListingID,
			ruleID,
			change.OldPrice.String(),
			change.NewPrice.String(),
			change.ChangePercent.String(),
			change.Source,
			change.Reason,
			synced,
			platformErr,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeChangesPNG(path string, changes []storage.PriceChangeLog) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(changes))
	newPrices := make([]float64, len(changes))
	percents := make([]float64, len(changes))

	for i, change := range changes {
		x[i] = change.CreatedAt
		newPrices[i] = change.NewPrice.InexactFloat64()
		percents[i] = change.ChangePercent.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "New price",
				XValues: x,
				YValues: newPrices,
			},
			chart.TimeSeries{
				Name:    "Change %",
				XValues: x,
				YValues: percents,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
