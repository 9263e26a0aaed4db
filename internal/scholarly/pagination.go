package scholarly

import (
	"context"
)

// PaginateReferences walks the dedicated references endpoint for a paper
// whose embedded references were truncated (C4). Per spec §4.4/§7,
// pagination errors for a single paper are logged and swallowed: the
// caller always gets back whatever references were collected before the
// failure, never an error, so one bad paper can't drop the rest of a
// batch's edges.
func (c *Client) PaginateReferences(ctx context.Context, paperID string) []ReferenceStub {
	var refs []ReferenceStub
	offset := EmbeddedReferenceCap

	for {
		select {
		case <-ctx.Done():
			c.log.Warn("pagination cancelled", "paper_id", paperID, "offset", offset)
			return refs
		default:
		}

		page, err := c.FetchReferencesPage(ctx, paperID, offset)
		if err != nil {
			c.log.Warn("pagination page failed, keeping partial edges", "paper_id", paperID, "offset", offset, "error", err)
			return refs
		}

		if len(page.Data) == 0 {
			return refs
		}

		refs = append(refs, page.Data...)

		if page.Next == nil {
			return refs
		}
		next := *page.Next
		if next <= offset || next > OffsetCeiling {
			return refs
		}
		offset = next
	}
}
