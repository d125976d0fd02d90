package bling

import (
	"context"
	"time"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
)

// Fetcher walks paginated list endpoints.
type Fetcher struct {
	client   *Client
	pageSize int
	delayOK  time.Duration
	logger   *logger.Logger
}

func NewFetcher(client *Client, pageSize int, delayOK time.Duration, logger *logger.Logger) *Fetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Fetcher{client: client, pageSize: pageSize, delayOK: delayOK, logger: logger}
}

// Pages starts a walk at page 1.
func (f *Fetcher) Pages(r Resource) *Pager {
	return &Pager{fetcher: f, resource: r}
}

// Pager yields one page per Next call until the listing is exhausted or a
// request fails for good. It can only start over from page 1.
type Pager struct {
	fetcher  *Fetcher
	resource Resource

	page  int
	items []map[string]interface{}
	done  bool
	err   error
}

// Next fetches the next page. It returns false when there are no more pages;
// Err tells whether that was the natural end.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	if p.page > 0 && p.fetcher.delayOK > 0 {
		if err := p.fetcher.client.policy.Sleep(ctx, p.fetcher.delayOK); err != nil {
			p.finish(err)
			return false
		}
	}

	next := p.page + 1
	items, err := p.fetcher.client.GetPage(ctx, p.resource.Path, next, p.fetcher.pageSize, p.resource.Filters)
	if err != nil {
		p.fetcher.logger.Error("Fetching %s page %d failed: %v", p.resource.Name, next, err)
		p.finish(err)
		return false
	}

	p.page = next
	p.items = items
	p.fetcher.logger.Debug("Fetched %s page %d (%d items)", p.resource.Name, next, len(items))

	if len(items) == 0 {
		p.done = true
		return false
	}
	if len(items) < p.fetcher.pageSize {
		// Short page: it is yielded, and nothing follows it.
		p.done = true
	}
	return true
}

func (p *Pager) finish(err error) {
	p.done = true
	p.items = nil
	p.err = err
}

// Items returns the page fetched by the last successful Next.
func (p *Pager) Items() []map[string]interface{} {
	return p.items
}

// Page is the number of the last page fetched.
func (p *Pager) Page() int {
	return p.page
}

func (p *Pager) Err() error {
	return p.err
}

// FetchResult is everything one walk collected. Complete is false when the
// walk stopped on an error; Items still holds what was fetched before it.
type FetchResult struct {
	Items    []map[string]interface{}
	Pages    int
	Complete bool
	Err      error
}

// FetchAll accumulates every page. Exhausted retries end the walk with a
// partial result; only authorization failures and cancellation are returned
// as errors.
func (f *Fetcher) FetchAll(ctx context.Context, r Resource) (*FetchResult, error) {
	res := &FetchResult{}
	pager := f.Pages(r)
	for pager.Next(ctx) {
		res.Items = append(res.Items, pager.Items()...)
		res.Pages++
	}

	if err := pager.Err(); err != nil {
		res.Err = err
		if apperrors.Fatal(err) || ctx.Err() != nil {
			return res, err
		}
		f.logger.Warn("Listing %s stopped early with %d items: %v", r.Name, len(res.Items), err)
		return res, nil
	}

	res.Complete = true
	return res, nil
}
