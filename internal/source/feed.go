package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"
)

// Feed reads candidate IDs from a ranking feed: an RSS or Atom document
// whose items are lists in rank order. An item's GUID is its list ID,
// falling back to its link.
type Feed struct {
	url    string
	parser *gofeed.Parser
}

// NewFeed creates a Feed source for feedURL. A nil client uses gofeed's default.
func NewFeed(feedURL string, client *http.Client) *Feed {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	return &Feed{url: feedURL, parser: p}
}

// FetchTopIDs returns up to limit IDs in feed order.
func (f *Feed) FetchTopIDs(ctx context.Context, limit int) ([]string, error) {
	parsed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.url, err)
	}

	ids := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		ids = append(ids, guid)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}
