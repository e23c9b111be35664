package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"stablemint/internal/storage"
)

// Show prints recent health samples, or the operation journal with
// --operations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	defer closeStore()

	if opts.Operations {
		return a.showOperations(ctx, store, opts.Limit)
	}
	return a.showSamples(ctx, store, opts.Limit)
}

func (a *App) showSamples(ctx context.Context, store storage.HealthSampleStore, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAccount\tCollateral USD\tDebt\tHealth\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		health := "unconstrained"
		if sample.HealthFactor != nil {
			health = sample.HealthFactor.StringFixed(4)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			sample.Account,
			sample.CollateralUSD.StringFixed(2),
			sample.Debt.StringFixed(2),
			health,
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showOperations(ctx context.Context, store storage.OperationStore, limit int) error {
	ops, err := store.ListRecentOperations(ctx, limit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(os.Stdout, "no operations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tAccount\tAsset\tAmount\tHealth")

	for _, op := range ops {
		asset := "-"
		if op.Asset != nil {
			asset = *op.Asset
		}
		health := "unconstrained"
		if op.HealthFactor != nil {
			health = op.HealthFactor.StringFixed(4)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			op.CreatedAt.UTC().Format(time.RFC3339),
			op.Kind,
			op.Account,
			asset,
			op.Amount.String(),
			health,
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
