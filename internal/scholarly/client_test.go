package scholarly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", srv.URL,
		WithRateLimit(1000, time.Millisecond),
		WithHTTPClient(srv.Client()),
		WithBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestFetchBatchSkipsNullsAndEmpty(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`[
			{"paperId":"P1","referenceCount":2,"fieldsOfStudy":["CS"],"references":[{"paperId":"R1"},{"paperId":"R2"}]},
			null,
			{}
		]`))
	})

	recs, err := c.FetchBatch(context.Background(), []string{"P1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "P1", recs[0].PaperID)
}

func TestFetchBatchMalformedBodyIsNotAList(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	_, err := c.FetchBatch(context.Background(), []string{"P1"})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRetryAfterHonoredThenSucceeds(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	recs, err := c.FetchBatch(context.Background(), []string{"P1"})
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.FetchBatch(context.Background(), []string{"P1"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryableStatusExhaustsAttempts(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.FetchBatch(context.Background(), []string{"P1"})
	require.Error(t, err)
	require.Equal(t, int32(MaxAttempts), atomic.LoadInt32(&calls))
}

func TestPaginateReferencesFollowsNextUntilAbsent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		switch offset {
		case "99":
			next := 198
			_ = json.NewEncoder(w).Encode(ReferencesPage{Data: []ReferenceStub{{PaperID: "R1"}}, Next: &next})
		case "198":
			_, _ = w.Write([]byte(`{"data":[{"paperId":"R2"}]}`)) // no next
		default:
			t.Fatalf("unexpected offset %q", offset)
		}
	})

	refs := c.PaginateReferences(context.Background(), "P1")
	require.Equal(t, []ReferenceStub{{PaperID: "R1"}, {PaperID: "R2"}}, refs)
}

func TestPaginateReferencesStopsOnEmptyPageDespiteValidNext(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		next := 198
		_ = json.NewEncoder(w).Encode(ReferencesPage{Data: []ReferenceStub{}, Next: &next})
	})

	refs := c.PaginateReferences(context.Background(), "P1")
	require.Empty(t, refs)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "an empty page must stop pagination even with a valid next")
}

func TestPaginateReferencesSwallowsErrors(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	refs := c.PaginateReferences(context.Background(), "P1")
	require.Empty(t, refs)
}

func TestNeedsPagination(t *testing.T) {
	refs := make([]ReferenceStub, 99)
	require.True(t, NeedsPagination(BatchRecord{ReferenceCount: 250, References: refs}))
	require.False(t, NeedsPagination(BatchRecord{ReferenceCount: 99, References: refs}))
	require.False(t, NeedsPagination(BatchRecord{ReferenceCount: 250, References: refs[:50]}))
}
