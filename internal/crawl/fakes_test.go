package crawl

import (
	"context"
	"sync"

	"github.com/D3prave/citecrawl/internal/frontier"
	"github.com/D3prave/citecrawl/internal/scholarly"
	"github.com/D3prave/citecrawl/internal/store"
)

// fakeFrontier is an in-memory FIFO satisfying the Frontier interface,
// standing in for a Redis-backed one in tests.
type fakeFrontier struct {
	mu      sync.Mutex
	entries []frontier.Entry
}

func (f *fakeFrontier) PushMany(_ context.Context, entries []frontier.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeFrontier) PopUpTo(_ context.Context, n int) ([]frontier.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	if n > len(f.entries) {
		n = len(f.entries)
	}
	popped := f.entries[:n]
	f.entries = f.entries[n:]
	return popped, nil
}

func (f *fakeFrontier) Length(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func (f *fakeFrontier) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	return nil
}

// fakeProcessed tracks a set of processed IDs in memory.
type fakeProcessed struct {
	mu        sync.Mutex
	processed map[string]struct{}
	created   bool
}

func newFakeProcessed() *fakeProcessed {
	return &fakeProcessed{processed: make(map[string]struct{})}
}

func (p *fakeProcessed) Create(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = true
	p.processed = make(map[string]struct{})
	return nil
}

func (p *fakeProcessed) FilterUnprocessed(_ context.Context, ids []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, done := p.processed[id]; !done {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *fakeProcessed) MarkProcessed(_ context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.processed[id] = struct{}{}
	}
	return nil
}

// fakeQueued tracks a set of queued IDs in memory, mirroring BF_queued's
// test-and-add semantics exactly (no false positives, since it's a real
// set rather than a bloom filter).
type fakeQueued struct {
	mu      sync.Mutex
	queued  map[string]struct{}
	created bool
}

func newFakeQueued() *fakeQueued {
	return &fakeQueued{queued: make(map[string]struct{})}
}

func (q *fakeQueued) Create(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.created = true
	q.queued = make(map[string]struct{})
	return nil
}

func (q *fakeQueued) TestAndAdd(_ context.Context, ids []string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var newlyAdded []string
	for _, id := range ids {
		if _, present := q.queued[id]; !present {
			q.queued[id] = struct{}{}
			newlyAdded = append(newlyAdded, id)
		}
	}
	return newlyAdded, nil
}

// fakeWriter accumulates edges/fields-of-study in memory, committing
// everything immediately rather than deferring every N calls - crawl loop
// correctness doesn't depend on the deferred-commit cadence, only on the
// contract that committed IDs are only ever ones actually written.
type fakeWriter struct {
	mu     sync.Mutex
	edges  []store.Edge
	fields map[string][]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{fields: make(map[string][]string)}
}

func (w *fakeWriter) WriteBatch(_ context.Context, edges []store.Edge, fos map[string][]string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edges = append(w.edges, edges...)
	committed := make([]string, 0, len(fos))
	for id, v := range fos {
		w.fields[id] = v
		committed = append(committed, id)
	}
	return committed, nil
}

func (w *fakeWriter) Flush(context.Context) ([]string, error) {
	return nil, nil
}

// fakeSchema tracks schema bootstrap/truncate calls.
type fakeSchema struct {
	bootstrapped bool
	truncated    bool
}

func (s *fakeSchema) Bootstrap(context.Context) error {
	s.bootstrapped = true
	return nil
}

func (s *fakeSchema) Truncate(context.Context) error {
	s.truncated = true
	return nil
}

// fakeScholarly serves canned batch responses keyed by the full list of
// requested IDs (chunkKey), and canned pagination pages keyed by paper ID.
type fakeScholarly struct {
	mu          sync.Mutex
	batches     map[string][]scholarly.BatchRecord
	pages       map[string][]scholarly.ReferenceStub
	fetchCalls  int
	pageCalls   int
	failOnChunk map[string]bool
}

func newFakeScholarly() *fakeScholarly {
	return &fakeScholarly{
		batches:     make(map[string][]scholarly.BatchRecord),
		pages:       make(map[string][]scholarly.ReferenceStub),
		failOnChunk: make(map[string]bool),
	}
}

func (s *fakeScholarly) FetchBatch(_ context.Context, ids []string) ([]scholarly.BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	key := chunkKey(ids)
	if s.failOnChunk[key] {
		return nil, errFakeFetch
	}
	return s.batches[key], nil
}

func (s *fakeScholarly) PaginateReferences(_ context.Context, paperID string) []scholarly.ReferenceStub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCalls++
	return s.pages[paperID]
}

func chunkKey(ids []string) string {
	key := ""
	for _, id := range ids {
		key += id + ","
	}
	return key
}

var errFakeFetch = fakeFetchErr{}

type fakeFetchErr struct{}

func (fakeFetchErr) Error() string { return "fake: batch fetch failed" }
