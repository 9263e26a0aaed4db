// Package scholarly is the client for the external scholarly citation API:
// the rate-limited HTTP client (C3) and the reference pagination protocol
// (C4).
package scholarly

import "time"

// API shape constants, per spec §4.4 and §6.
const (
	// EmbeddedReferenceCap is the number of references the batch endpoint
	// embeds per paper before truncating.
	EmbeddedReferenceCap = 99
	// PageSize is the page size for the dedicated references endpoint.
	PageSize = 99
	// OffsetCeiling is the server-side hard offset limit; pagination never
	// requests beyond it.
	OffsetCeiling = 9999

	// DefaultTimeout is the HTTP round-trip timeout for every call.
	DefaultTimeout = 30 * time.Second
	// MaxAttempts is the total number of attempts: 1 initial try plus up to
	// 5 retries (spec §4.3: "retries up to 5 total attempts ... Sixth
	// failure surfaces to caller").
	MaxAttempts = 6
	// BackoffBase and BackoffCap bound the exponential retry backoff.
	BackoffBase = time.Second
	BackoffCap  = 30 * time.Second

	batchFields = "paperId,referenceCount,fieldsOfStudy,references.paperId"
)

// BatchRecord is one per-ID record from the batch endpoint response. A null
// slot in the response array (paper not found) or a record without a
// paperId is dropped by FetchBatch, so callers never see one (spec §4.6
// step 3).
type BatchRecord struct {
	PaperID        string          `json:"paperId"`
	ReferenceCount int             `json:"referenceCount"`
	FieldsOfStudy  []string        `json:"fieldsOfStudy"`
	References     []ReferenceStub `json:"references"`
}

// ReferenceStub is one embedded or paginated reference entry; both shapes
// carry just the cited paper's ID.
type ReferenceStub struct {
	PaperID string `json:"paperId"`
}

// ReferencesPage is the response shape of the dedicated per-paper
// references endpoint (spec §6).
type ReferencesPage struct {
	Data []ReferenceStub `json:"data"`
	Next *int            `json:"next"`
}

// NeedsPagination reports whether a batch record's embedded references were
// truncated and the dedicated endpoint must be walked for the rest.
// Preserved verbatim per spec §4.4/§9: the dual condition
// (referenceCount > 99 && len(embedded) > 98) is intentional, not a typo -
// the open question in spec.md flags but does not resolve it, so the exact
// predicate is kept.
func NeedsPagination(rec BatchRecord) bool {
	return rec.ReferenceCount > EmbeddedReferenceCap && len(rec.References) > EmbeddedReferenceCap-1
}
