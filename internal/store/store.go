// Package store is the relational store (C5 batch writer, plus schema
// bootstrap for C7): transactional, deadlock-retrying inserts of citations
// and processed-paper records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
)

// postgresDeadlockCode is the SQLSTATE Postgres reports for
// deadlock_detected.
const postgresDeadlockCode = "40P01"

// Edge is a (citing, cited) pair awaiting insertion.
type Edge struct {
	CitingID string
	CitedID  string
}

// Store wraps the pooled Postgres connection used by one worker.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to dsn with the per-worker pool bounds from spec §5
// (min 1, max 10).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(1)
	return New(db), nil
}

// New wraps an already-configured connection pool, for callers (like
// cmd/citecrawl) that need the same *sql.DB shared between the store and a
// BatchWriter.
func New(db *sql.DB) *Store {
	return &Store{db: db, log: slog.With("component", "store")}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Bootstrap creates the schema if missing (fresh and resume both do this;
// spec §4.7).
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// Truncate empties both tables (fresh mode only; spec §4.7).
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, truncateSQL); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// ConfirmProcessed implements oracle.AuthoritativeStore: the single
// set-membership SQL query that resolves BF_processed false positives
// (spec §4.1).
func (s *Store) ConfirmProcessed(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id FROM processed_papers WHERE paper_id = ANY($1)`,
		pq.Array(candidates))
	if err != nil {
		return nil, fmt.Errorf("confirm processed: %w", err)
	}
	defer rows.Close()

	var confirmed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan confirmed id: %w", err)
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, rows.Err()
}

// isDeadlock reports whether err is a Postgres deadlock_detected error.
func isDeadlock(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == postgresDeadlockCode
	}
	return false
}

// BatchWriter is the C5 transactional writer. It accumulates statements in
// one long-lived transaction and commits every commitEvery calls to
// WriteBatch, per spec §4.5/§4.6 step 6, while keeping the ordering
// contract of I3 (citations before processed marks) within every call.
type BatchWriter struct {
	db          *sql.DB
	log         *slog.Logger
	commitEvery int
	maxRetries  uint64

	mu          sync.Mutex
	tx          *sql.Tx
	pendingIDs  []string
	sinceCommit int
}

// NewBatchWriter builds a writer that commits every commitEvery batches
// (spec default: 5).
func NewBatchWriter(db *sql.DB, commitEvery int) *BatchWriter {
	return &BatchWriter{
		db:          db,
		log:         slog.With("component", "store.batch"),
		commitEvery: commitEvery,
		maxRetries:  3, // spec §4.5: deadlock retry up to 3 times
	}
}

// WriteBatch inserts edges then fieldsOfStudy's keys as processed-paper
// rows, in that order (I3), within the writer's current transaction. It
// returns the paper IDs that became durably committed as a result of this
// call - empty unless this call happened to cross the commitEvery
// threshold. Callers (internal/crawl) must only union returned IDs into
// BF_processed, never the fieldsOfStudy keys directly: the oracle update
// must not precede the commit (I3/§4.5).
func (w *BatchWriter) WriteBatch(ctx context.Context, edges []Edge, fieldsOfStudy map[string][]string) (committed []string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		werr := w.writeOnce(ctx, edges, fieldsOfStudy)
		if werr == nil {
			return nil
		}
		if isDeadlock(werr) && uint64(attempt) <= w.maxRetries {
			w.log.Warn("deadlock, retrying batch", "attempt", attempt, "error", werr)
			return werr
		}
		return backoff.Permanent(werr)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, w.maxRetries), ctx))

	if err != nil {
		return nil, err
	}

	w.sinceCommit++
	if w.sinceCommit < w.commitEvery {
		return nil, nil
	}
	return w.commit(ctx)
}

// writeOnce performs one (possibly retried) attempt at appending edges and
// processed rows to the open transaction, opening one if needed. On a
// deadlock it rolls back and drops the whole open transaction (and any
// prior uncommitted batches within it) rather than partially salvaging it:
// those papers are simply re-fetched on a future crawl, same as a crash
// between commits (spec §4.5/§9).
func (w *BatchWriter) writeOnce(ctx context.Context, edges []Edge, fieldsOfStudy map[string][]string) error {
	if w.tx == nil {
		// Not bound to ctx's cancellation: database/sql rolls a transaction
		// back when its BeginTx context is cancelled, which would leave
		// nothing for Flush to commit on graceful shutdown.
		tx, err := w.db.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		w.tx = tx
	}

	if err := insertCitations(ctx, w.tx, edges); err != nil {
		if rollErr := w.tx.Rollback(); rollErr != nil {
			w.log.Error("rollback after citation insert failure", "error", rollErr)
		}
		w.tx = nil
		w.pendingIDs = nil
		w.sinceCommit = 0
		return err
	}

	if err := markProcessed(ctx, w.tx, fieldsOfStudy); err != nil {
		if rollErr := w.tx.Rollback(); rollErr != nil {
			w.log.Error("rollback after mark-processed failure", "error", rollErr)
		}
		w.tx = nil
		w.pendingIDs = nil
		w.sinceCommit = 0
		return err
	}

	for id := range fieldsOfStudy {
		w.pendingIDs = append(w.pendingIDs, id)
	}
	return nil
}

// commit finalizes the open transaction and returns the paper IDs now
// safely durable. Caller holds w.mu.
func (w *BatchWriter) commit(ctx context.Context) ([]string, error) {
	if w.tx == nil {
		return nil, nil
	}
	if err := w.tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	committed := w.pendingIDs
	w.tx = nil
	w.pendingIDs = nil
	w.sinceCommit = 0
	return committed, nil
}

// Flush forces a commit of any outstanding transaction regardless of the
// commitEvery counter, used on graceful shutdown (spec §4.7) so in-flight
// work isn't silently dropped beyond the best-effort guarantee already
// documented for hard kills.
func (w *BatchWriter) Flush(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commit(ctx)
}

func insertCitations(ctx context.Context, tx *sql.Tx, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO citations (citing_id, cited_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare citation insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.CitingID, e.CitedID); err != nil {
			return fmt.Errorf("insert citation %s->%s: %w", e.CitingID, e.CitedID, err)
		}
	}
	return nil
}

func markProcessed(ctx context.Context, tx *sql.Tx, fieldsOfStudy map[string][]string) error {
	if len(fieldsOfStudy) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO processed_papers (paper_id, fields_of_study) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare processed insert: %w", err)
	}
	defer stmt.Close()

	for id, fos := range fieldsOfStudy {
		if _, err := stmt.ExecContext(ctx, id, pq.Array(fos)); err != nil {
			return fmt.Errorf("mark processed %s: %w", id, err)
		}
	}
	return nil
}
