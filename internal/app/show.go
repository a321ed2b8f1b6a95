package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent price changes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show price changes")
	}
	if closeStore != nil {
		defer closeStore()
	}

	changes, err := store.ListRecentChanges(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Fprintln(os.Stdout, "no price changes found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tListing\tOld\tNew\tChange%\tSource\tSynced\tReason")

	for _, change := range changes {
		synced := "pending"
		if change.PlatformUpdated {
			synced = "yes"
		} else if change.PlatformError != nil {
			synced = "error: " + sanitizeInline(*change.PlatformError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			change.CreatedAt.UTC().Format(time.RFC3339),
			change.ListingID,
			formatDecimal(change.OldPrice, 2),
			formatDecimal(change.NewPrice, 2),
			formatDecimal(change.ChangePercent, 2),
			change.Source,
			synced,
			sanitizeInline(change.Reason),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
