package trackstar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// paginate follows the opaque next_token through a /wms list endpoint,
// invoking onPage for each page of raw records. The page cap bounds the loop
// against an aggregator that never stops handing out tokens; hitting the cap
// terminates cleanly with whatever was consumed so far.
func (c *Client) paginate(ctx context.Context, accessToken, path string, filters ListFilters, onPage func(json.RawMessage) error) error {
	if accessToken == "" {
		return ErrMissingCredential
	}

	query := filters.query()
	for pageNum := 1; ; pageNum++ {
		var p page
		if err := c.call(ctx, http.MethodGet, path, accessToken, query, nil, &p, ""); err != nil {
			return err
		}

		if len(p.Data) > 0 {
			if err := onPage(p.Data); err != nil {
				return err
			}
		}

		if p.NextToken == "" {
			return nil
		}
		if pageNum >= c.cfg.MaxPages {
			c.logger.Warn("Pagination stopped at safety cap",
				zap.String("path", path),
				zap.Int("max_pages", c.cfg.MaxPages),
			)
			return nil
		}
		query.Set("page_token", p.NextToken)
	}
}

// listResource is the typed pagination shim shared by the List* methods
func listResource[T any](ctx context.Context, c *Client, accessToken, path string, filters ListFilters, fn func([]T) error) error {
	return c.paginate(ctx, accessToken, path, filters, func(raw json.RawMessage) error {
		var records []T
		if err := json.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("trackstar: decode %s page: %w", path, err)
		}
		if len(records) == 0 {
			return nil
		}
		return fn(records)
	})
}
