// Package frontier implements the shared FIFO of pending paper IDs (C2).
package frontier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis failure while operating on the frontier.
var ErrUnavailable = errors.New("frontier: backing queue unavailable")

// Entry is the self-describing frontier envelope from spec §3: a structured
// wrapper around the paper ID so additional fields can be introduced later
// without a migration. Unknown fields on decode are silently ignored by
// encoding/json, which is what "forward-compatible" means here in practice.
type Entry struct {
	Version int    `json:"v"`
	PaperID string `json:"paper_id"`
}

const currentEnvelopeVersion = 1

// NewEntry builds a current-version envelope for a paper ID.
func NewEntry(paperID string) Entry {
	return Entry{Version: currentEnvelopeVersion, PaperID: paperID}
}

// Frontier is a Redis-list-backed FIFO queue shared across worker processes.
type Frontier struct {
	rdb *redis.Client
	key string
}

// New wraps an existing Redis connection around the named queue key.
func New(rdb *redis.Client, key string) *Frontier {
	return &Frontier{rdb: rdb, key: key}
}

// Reset deletes the frontier (fresh mode bootstrap).
func (f *Frontier) Reset(ctx context.Context) error {
	if err := f.rdb.Del(ctx, f.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PushMany appends entries to the tail of the queue.
func (f *Frontier) PushMany(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode frontier entry: %w", err)
		}
		payloads = append(payloads, raw)
	}
	if err := f.rdb.RPush(ctx, f.key, payloads...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PopUpTo pops up to n entries from the head of the queue in one round
// trip. Redis executes LPOP atomically, so concurrent pops across workers
// are serialized by the server: each entry is delivered to exactly one
// caller. May return fewer than n entries, or zero, and never blocks.
func (f *Frontier) PopUpTo(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := f.rdb.LPopCount(ctx, f.key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// A malformed envelope shouldn't wedge the whole pop; drop it.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Length reports the current queue depth.
func (f *Frontier) Length(ctx context.Context) (int64, error) {
	n, err := f.rdb.LLen(ctx, f.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
