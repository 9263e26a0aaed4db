// Package oracle implements the two-tier dedup oracle (C1): a probabilistic
// membership filter backed by RedisBloom, with the processed-paper instance
// additionally backed authoritatively by the relational store.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned (and is fatal to the caller) whenever the
// backing Redis/RedisBloom service cannot be reached. The crawl loop cannot
// safely proceed without the oracle (spec §4.1 Error policy).
var ErrUnavailable = errors.New("oracle: backing filter unavailable")

// AuthoritativeStore is the subset of the relational store the Processed
// oracle needs to resolve possible false positives.
type AuthoritativeStore interface {
	// ConfirmProcessed returns the subset of candidates that genuinely have
	// a processed_papers row.
	ConfirmProcessed(ctx context.Context, candidates []string) ([]string, error)
}

// redisClient is the subset of *redis.Client the filter needs; narrowed to
// an interface so tests can fake RedisBloom replies without a real module.
type redisClient interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Filter is a single named RedisBloom filter (either BF_processed or
// BF_queued). Capacity/FPR are fixed at filter-creation time (fresh mode);
// an already-existing filter is left untouched on resume.
type Filter struct {
	rdb       redisClient
	key       string
	capacity  int64
	errorRate float64
}

// NewFilter wraps an existing Redis connection around a named bloom filter.
func NewFilter(rdb *redis.Client, key string, capacity int64, errorRate float64) *Filter {
	return &Filter{rdb: rdb, key: key, capacity: capacity, errorRate: errorRate}
}

// Create issues BF.RESERVE for a fresh-mode bootstrap. It is idempotent in
// effect (fresh mode always runs this after deleting the key).
func (f *Filter) Create(ctx context.Context) error {
	if err := f.rdb.Del(ctx, f.key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, f.key, err)
	}
	if err := f.rdb.Do(ctx, "BF.RESERVE", f.key, f.errorRate, f.capacity).Err(); err != nil {
		return fmt.Errorf("%w: reserve %s: %v", ErrUnavailable, f.key, err)
	}
	return nil
}

// Add unions ids into the filter, ignoring members already present.
func (f *Filter) Add(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, "BF.MADD", f.key)
	for _, id := range ids {
		args = append(args, id)
	}
	if err := f.rdb.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("%w: madd %s: %v", ErrUnavailable, f.key, err)
	}
	return nil
}

// TestAndAdd is the atomic multi-add primitive: for each id, it is added to
// the filter and the result records whether it was newly absent beforehand.
// BF.MADD reports, per argument, 1 if the element is new and 0 if it
// (probably) already existed - so the response doubles as both the add and
// the "was it new" signal in one round trip.
func (f *Filter) TestAndAdd(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, "BF.MADD", f.key)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := f.rdb.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: madd %s: %v", ErrUnavailable, f.key, err)
	}
	flags, err := toBoolSlice(res)
	if err != nil {
		return nil, fmt.Errorf("%w: parse madd response: %v", ErrUnavailable, err)
	}
	newlyAdded := make([]string, 0, len(ids))
	for i, wasNew := range flags {
		if wasNew && i < len(ids) {
			newlyAdded = append(newlyAdded, ids[i])
		}
	}
	return newlyAdded, nil
}

// TestMany returns the subset of ids the filter reports as definitely
// absent. IDs it reports present may be false positives; the caller is
// responsible for authoritative confirmation when that matters (see
// ProcessedOracle.FilterUnprocessed).
func (f *Filter) TestMany(ctx context.Context, ids []string) (absent []string, maybePresent []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, "BF.MEXISTS", f.key)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := f.rdb.Do(ctx, args...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mexists %s: %v", ErrUnavailable, f.key, err)
	}
	flags, err := toBoolSlice(res)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse mexists response: %v", ErrUnavailable, err)
	}
	for i, present := range flags {
		if i >= len(ids) {
			break
		}
		if present {
			maybePresent = append(maybePresent, ids[i])
		} else {
			absent = append(absent, ids[i])
		}
	}
	return absent, maybePresent, nil
}

// toBoolSlice normalizes a RedisBloom multi-reply (a slice of int64-ish
// values) into booleans. go-redis decodes RESP integers as int64.
func toBoolSlice(res interface{}) ([]bool, error) {
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", res)
	}
	out := make([]bool, len(items))
	for i, item := range items {
		n, ok := item.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected element type %T at %d", item, i)
		}
		out[i] = n == 1
	}
	return out, nil
}

// ProcessedOracle is the C1 instance over BF_processed, with authoritative
// backing from the relational store.
type ProcessedOracle struct {
	filter *Filter
	store  AuthoritativeStore
}

// NewProcessedOracle builds the processed-paper oracle.
func NewProcessedOracle(rdb *redis.Client, key string, capacity int64, errorRate float64, store AuthoritativeStore) *ProcessedOracle {
	return &ProcessedOracle{filter: NewFilter(rdb, key, capacity, errorRate), store: store}
}

// Create bootstraps the bloom filter (fresh mode only).
func (o *ProcessedOracle) Create(ctx context.Context) error { return o.filter.Create(ctx) }

// FilterUnprocessed returns the subset of ids not yet processed, per §4.1:
// a batch bloom query followed by a single authoritative SQL check for any
// IDs the filter reports present (possible false positives).
func (o *ProcessedOracle) FilterUnprocessed(ctx context.Context, ids []string) ([]string, error) {
	absent, maybePresent, err := o.filter.TestMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(maybePresent) == 0 {
		return absent, nil
	}

	confirmed, err := o.store.ConfirmProcessed(ctx, maybePresent)
	if err != nil {
		return nil, fmt.Errorf("confirm processed: %w", err)
	}
	if err := o.filter.Add(ctx, confirmed); err != nil {
		return nil, err
	}

	confirmedSet := make(map[string]struct{}, len(confirmed))
	for _, id := range confirmed {
		confirmedSet[id] = struct{}{}
	}
	for _, id := range maybePresent {
		if _, seen := confirmedSet[id]; !seen {
			// Bloom false positive that the store doesn't actually have.
			absent = append(absent, id)
		}
	}
	return absent, nil
}

// MarkProcessed unions ids into BF_processed. Per I3/§4.1 this must only be
// called after the corresponding authoritative row insert commits; the
// caller (internal/crawl) enforces that ordering by passing only the IDs
// that store.BatchWriter reports as committed.
func (o *ProcessedOracle) MarkProcessed(ctx context.Context, ids []string) error {
	return o.filter.Add(ctx, ids)
}

// QueuedOracle is the C1 instance over BF_queued: advisory only, no
// authoritative backing (I4).
type QueuedOracle struct {
	filter *Filter
}

// NewQueuedOracle builds the queued-paper oracle.
func NewQueuedOracle(rdb *redis.Client, key string, capacity int64, errorRate float64) *QueuedOracle {
	return &QueuedOracle{filter: NewFilter(rdb, key, capacity, errorRate)}
}

// Create bootstraps the bloom filter (fresh mode only).
func (o *QueuedOracle) Create(ctx context.Context) error { return o.filter.Create(ctx) }

// TestAndAdd is the sole gate for enqueueing (§4.1, §4.6 step 5).
func (o *QueuedOracle) TestAndAdd(ctx context.Context, ids []string) ([]string, error) {
	return o.filter.TestAndAdd(ctx, ids)
}
