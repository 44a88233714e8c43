package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
)

// MaxPageSize is the largest page the samples endpoint accepts.
const MaxPageSize = 200

// FeedOptions selects the feed and how far to walk it.
type FeedOptions struct {
	Scope    Scope
	PageSize int
	// Paginate follows the server cursor until the feed is exhausted.
	// Without it only the first page is read.
	Paginate bool
}

type feedPage struct {
	Data []json.RawMessage `json:"data"`
	Next string            `json:"next"`
}

// Feed walks the sample feed newest first. Pages are requested lazily: a page
// is only fetched once the consumer has taken every item of the previous one,
// and breaking out of the loop stops all further requests.
//
// An error is yielded at most once and ends the sequence.
func (c *Client) Feed(ctx context.Context, opts FeedOptions) iter.Seq2[FeedItem, error] {
	scope := opts.Scope
	if scope == "" {
		scope = ScopePublic
	}
	limit := clampPageSize(opts.PageSize)

	return func(yield func(FeedItem, error) bool) {
		cursor := ""
		for {
			page, err := c.fetchFeedPage(ctx, scope, limit, cursor)
			if err != nil {
				yield(FeedItem{}, err)
				return
			}
			for _, raw := range page.Data {
				item, err := decodeFeedItem(raw)
				if err != nil {
					yield(FeedItem{}, err)
					return
				}
				if !yield(item, nil) {
					return
				}
			}
			if !opts.Paginate || page.Next == "" {
				return
			}
			cursor = page.Next
		}
	}
}

func (c *Client) fetchFeedPage(ctx context.Context, scope Scope, limit int, cursor string) (feedPage, error) {
	q := url.Values{}
	q.Set("subset", string(scope))
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("offset", cursor)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/samples", q, nil)
	if err != nil {
		return feedPage{}, err
	}
	body, err := c.do(req, "feed")
	if err != nil {
		return feedPage{}, err
	}
	var page feedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return feedPage{}, fmt.Errorf("decode feed page: %w", err)
	}
	return page, nil
}

func clampPageSize(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
