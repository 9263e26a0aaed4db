package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/D3prave/citecrawl/internal/frontier"
	"github.com/D3prave/citecrawl/internal/paperid"
	"github.com/D3prave/citecrawl/internal/scholarly"
	"github.com/D3prave/citecrawl/internal/store"
)

// Batch and chunk sizes from spec §4.6/glossary.
const (
	popBatchSize  = 100
	chunkSize     = 100
	emptyPollWait = time.Second
)

// Worker bundles the shared collaborators one crawl loop iteration needs.
// Constructed once at startup and threaded explicitly rather than kept in
// package-level globals (spec §9).
type Worker struct {
	Frontier  Frontier
	Processed ProcessedOracle
	Queued    QueuedOracle
	Writer    Writer
	Scholarly ScholarlyClient
	Log       *slog.Logger
}

// NewWorker builds a Worker, defaulting the logger if none is given.
func NewWorker(f Frontier, processed ProcessedOracle, queued QueuedOracle, w Writer, sc ScholarlyClient, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.With("component", "crawl")
	}
	return &Worker{Frontier: f, Processed: processed, Queued: queued, Writer: w, Scholarly: sc, Log: log}
}

// Run drives the crawl loop (C6) until ctx is cancelled, returning the
// context's error. It exits at the next batch boundary, inside the
// pagination loop, and before each chunk POST, per spec §5 Cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := w.runOneIteration(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}

	committed, err := w.Writer.Flush(context.Background())
	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	if len(committed) > 0 {
		if err := w.Processed.MarkProcessed(context.Background(), committed); err != nil {
			return fmt.Errorf("final mark processed: %w", err)
		}
	}
	return ctx.Err()
}

// runOneIteration performs one pass of spec §4.6 steps 1-5.
func (w *Worker) runOneIteration(ctx context.Context) error {
	entries, err := w.Frontier.PopUpTo(ctx, popBatchSize)
	if err != nil {
		return fmt.Errorf("pop frontier: %w", err)
	}
	if len(entries) == 0 {
		return sleepOrDone(ctx, emptyPollWait)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if id := paperid.Normalize(e.PaperID); paperid.Valid(id) {
			ids = append(ids, id)
		}
	}

	toFetch, err := w.Processed.FilterUnprocessed(ctx, ids)
	if err != nil {
		return fmt.Errorf("filter unprocessed: %w", err)
	}
	if len(toFetch) == 0 {
		return nil
	}

	citedIDs, err := w.fetchAndWriteChunks(ctx, toFetch)
	if err != nil {
		return err
	}

	return w.enqueueCited(ctx, citedIDs)
}

// fetchAndWriteChunks handles spec §4.6 steps 3-4: chunked batch fetch,
// pagination overflow, and the transactional write. Returns every distinct
// cited_id written this iteration for step 5.
func (w *Worker) fetchAndWriteChunks(ctx context.Context, toFetch []string) ([]string, error) {
	chunker := NewChunker(toFetch, chunkSize)
	citedSet := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, ok := chunker.Next()
		if !ok {
			break
		}

		records, err := w.Scholarly.FetchBatch(ctx, chunk)
		if err != nil {
			w.Log.Warn("batch fetch failed, skipping chunk", "size", len(chunk), "error", err)
			continue
		}

		edges, fos := w.collectRecords(ctx, records)
		if len(edges) == 0 && len(fos) == 0 {
			continue
		}

		committed, err := w.Writer.WriteBatch(ctx, edges, fos)
		if err != nil {
			return nil, fmt.Errorf("write batch: %w", err)
		}
		if len(committed) > 0 {
			if err := w.Processed.MarkProcessed(ctx, committed); err != nil {
				return nil, fmt.Errorf("mark processed: %w", err)
			}
		}

		for _, e := range edges {
			citedSet[e.CitedID] = struct{}{}
		}
	}

	cited := make([]string, 0, len(citedSet))
	for id := range citedSet {
		cited = append(cited, id)
	}
	return cited, nil
}

// collectRecords turns a batch response into edges and a fields-of-study
// map, paginating overflow references per §4.4/§4.6 step 3.
func (w *Worker) collectRecords(ctx context.Context, records []scholarly.BatchRecord) ([]store.Edge, map[string][]string) {
	var edges []store.Edge
	fos := make(map[string][]string, len(records))

	for _, rec := range records {
		id := paperid.Normalize(rec.PaperID)
		if !paperid.Valid(id) {
			continue
		}
		fos[id] = rec.FieldsOfStudy
		if fos[id] == nil {
			fos[id] = []string{}
		}

		for _, ref := range rec.References {
			if rid := paperid.Normalize(ref.PaperID); paperid.Valid(rid) {
				edges = append(edges, store.Edge{CitingID: id, CitedID: rid})
			}
		}

		if scholarly.NeedsPagination(rec) {
			overflow := w.Scholarly.PaginateReferences(ctx, id)
			for _, ref := range overflow {
				if rid := paperid.Normalize(ref.PaperID); paperid.Valid(rid) {
					edges = append(edges, store.Edge{CitingID: id, CitedID: rid})
				}
			}
		}
	}
	return edges, fos
}

// enqueueCited performs spec §4.6 step 5: drop already-processed cited
// IDs via the processed oracle, then gate the rest through the queued
// oracle before pushing new frontier envelopes.
func (w *Worker) enqueueCited(ctx context.Context, citedIDs []string) error {
	if len(citedIDs) == 0 {
		return nil
	}
	unprocessed, err := w.Processed.FilterUnprocessed(ctx, citedIDs)
	if err != nil {
		return fmt.Errorf("filter cited unprocessed: %w", err)
	}
	if len(unprocessed) == 0 {
		return nil
	}

	newlyQueued, err := w.Queued.TestAndAdd(ctx, unprocessed)
	if err != nil {
		return fmt.Errorf("test-and-add queued: %w", err)
	}
	if len(newlyQueued) == 0 {
		return nil
	}

	entries := make([]frontier.Entry, 0, len(newlyQueued))
	for _, id := range newlyQueued {
		entries = append(entries, frontier.NewEntry(id))
	}
	if err := w.Frontier.PushMany(ctx, entries); err != nil {
		return fmt.Errorf("push frontier: %w", err)
	}
	return nil
}

// sleepOrDone waits d, or returns nil early if ctx is done first, leaving
// the shutdown decision to Run (spec §4.6 step 1: "sleep 1s and continue").
func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil // let the outer loop's ctx.Err() check end Run cleanly
	case <-t.C:
		return nil
	}
}
