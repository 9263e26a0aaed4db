// Package crawl implements the crawl loop (C6) and lifecycle controller
// (C7), wiring together the frontier, dedup oracle, scholarly client, and
// batch writer behind small interfaces so the loop can run against fakes in
// tests (spec §9: "wrap these in an explicit Worker value ... passed to the
// crawl loop; avoid module-scope singletons").
package crawl

import (
	"context"

	"github.com/D3prave/citecrawl/internal/frontier"
	"github.com/D3prave/citecrawl/internal/scholarly"
	"github.com/D3prave/citecrawl/internal/store"
)

// Frontier is the subset of *frontier.Frontier the crawl loop needs.
type Frontier interface {
	PushMany(ctx context.Context, entries []frontier.Entry) error
	PopUpTo(ctx context.Context, n int) ([]frontier.Entry, error)
	Length(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// ProcessedOracle is the subset of *oracle.ProcessedOracle the crawl loop
// needs.
type ProcessedOracle interface {
	FilterUnprocessed(ctx context.Context, ids []string) ([]string, error)
	MarkProcessed(ctx context.Context, ids []string) error
	Create(ctx context.Context) error
}

// QueuedOracle is the subset of *oracle.QueuedOracle the crawl loop needs.
type QueuedOracle interface {
	TestAndAdd(ctx context.Context, ids []string) ([]string, error)
	Create(ctx context.Context) error
}

// Writer is the subset of *store.BatchWriter the crawl loop needs.
type Writer interface {
	WriteBatch(ctx context.Context, edges []store.Edge, fieldsOfStudy map[string][]string) ([]string, error)
	Flush(ctx context.Context) ([]string, error)
}

// ScholarlyClient is the subset of *scholarly.Client the crawl loop needs.
type ScholarlyClient interface {
	FetchBatch(ctx context.Context, ids []string) ([]scholarly.BatchRecord, error)
	PaginateReferences(ctx context.Context, paperID string) []scholarly.ReferenceStub
}
