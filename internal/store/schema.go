package store

// schemaSQL bootstraps the relational schema idempotently (spec §6, §4.7).
// Collapsed into one file rather than the teacher's numbered migrations
// since this schema has no revision history yet (see DESIGN.md).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_papers (
	paper_id        TEXT PRIMARY KEY,
	fields_of_study TEXT[]
);

CREATE TABLE IF NOT EXISTS citations (
	citing_id TEXT NOT NULL,
	cited_id  TEXT NOT NULL,
	PRIMARY KEY (citing_id, cited_id)
);

CREATE INDEX IF NOT EXISTS idx_cited  ON citations (cited_id);
CREATE INDEX IF NOT EXISTS idx_citing ON citations (citing_id);
`

// truncateSQL wipes both tables for fresh mode (spec §4.7).
const truncateSQL = `
TRUNCATE TABLE citations, processed_papers;
`
