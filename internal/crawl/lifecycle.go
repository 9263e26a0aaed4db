package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/D3prave/citecrawl/internal/frontier"
	"github.com/D3prave/citecrawl/internal/paperid"
)

// ErrEmptyResumeFrontier is the fatal config error raised when --resume is
// given and the frontier is empty (spec §4.7, I5).
var ErrEmptyResumeFrontier = errors.New("crawl: resume mode requires a non-empty frontier")

// SchemaStore is the subset of *store.Store the lifecycle controller needs.
type SchemaStore interface {
	Bootstrap(ctx context.Context) error
	Truncate(ctx context.Context) error
}

// Bootstrap implements the C7 lifecycle controller's fresh/resume
// arbitration. On fresh, it wipes and recreates all durable state, marks
// the seed IDs as queued, and seeds the frontier; on resume, it refuses to
// start against an empty frontier.
func Bootstrap(ctx context.Context, fresh bool, schema SchemaStore, processed ProcessedOracle, queued QueuedOracle, f Frontier, seeds []string) error {
	if err := schema.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	if !fresh {
		n, err := f.Length(ctx)
		if err != nil {
			return fmt.Errorf("check frontier length: %w", err)
		}
		if n == 0 {
			return ErrEmptyResumeFrontier
		}
		return nil
	}

	if err := schema.Truncate(ctx); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	if err := f.Reset(ctx); err != nil {
		return fmt.Errorf("reset frontier: %w", err)
	}
	if err := processed.Create(ctx); err != nil {
		return fmt.Errorf("create processed filter: %w", err)
	}
	if err := queued.Create(ctx); err != nil {
		return fmt.Errorf("create queued filter: %w", err)
	}

	normalized := paperid.NormalizeAll(seeds)
	if len(normalized) == 0 {
		return nil
	}

	newlyQueued, err := queued.TestAndAdd(ctx, normalized)
	if err != nil {
		return fmt.Errorf("seed queued filter: %w", err)
	}

	entries := make([]frontier.Entry, 0, len(newlyQueued))
	for _, id := range newlyQueued {
		entries = append(entries, frontier.NewEntry(id))
	}
	if err := f.PushMany(ctx, entries); err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	return nil
}
