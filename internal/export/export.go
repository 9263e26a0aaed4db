// Package export streams the relational store's tables out as CSV for the
// downstream PageRank consumer (spec §6).
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/lib/pq"
)

// Exporter reads citations and processed-paper rows straight off a *sql.DB,
// rather than through internal/store, since export is a read-only reporting
// path with no transactional or retry concerns of its own.
type Exporter struct {
	db *sql.DB
}

// New wraps an existing connection pool for export queries.
func New(db *sql.DB) *Exporter {
	return &Exporter{db: db}
}

// ExportCitations streams every (citing_id, cited_id) edge as CSV with a
// header row.
func (e *Exporter) ExportCitations(ctx context.Context, w io.Writer) error {
	rows, err := e.db.QueryContext(ctx, `SELECT citing_id, cited_id FROM citations`)
	if err != nil {
		return fmt.Errorf("query citations: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"citing_id", "cited_id"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for rows.Next() {
		var citing, cited string
		if err := rows.Scan(&citing, &cited); err != nil {
			return fmt.Errorf("scan citation row: %w", err)
		}
		if err := cw.Write([]string{citing, cited}); err != nil {
			return fmt.Errorf("write citation row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate citations: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ExportProcessed streams every processed paper as CSV with a header row.
// fields_of_study is a genuine Postgres TEXT[] in the schema (spec §6); it's
// flattened here to a single pipe-delimited field for the downstream
// PageRank consumer, which expects plain delimited text rather than an
// array literal.
func (e *Exporter) ExportProcessed(ctx context.Context, w io.Writer) error {
	rows, err := e.db.QueryContext(ctx, `SELECT paper_id, fields_of_study FROM processed_papers`)
	if err != nil {
		return fmt.Errorf("query processed papers: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"paper_id", "fields_of_study"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for rows.Next() {
		var id string
		var fos pq.StringArray
		if err := rows.Scan(&id, &fos); err != nil {
			return fmt.Errorf("scan processed row: %w", err)
		}
		if err := cw.Write([]string{id, strings.Join(fos, "|")}); err != nil {
			return fmt.Errorf("write processed row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate processed papers: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
