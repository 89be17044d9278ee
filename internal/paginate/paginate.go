// Package paginate drains skip/limit paginated collections.
package paginate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/stacksync/internal/apperr"
)

// Page identifies one window of a collection.
type Page struct {
	Skip  int
	Limit int
	// IncludeCount asks the server for the collection total. Only the first
	// page sets it.
	IncludeCount bool
}

// FetchFunc retrieves one page. count is only meaningful when the page was
// requested with IncludeCount.
type FetchFunc[T any] func(ctx context.Context, p Page) (items []T, count int, err error)

// Drain fetches every item of a collection. The first page is fetched alone to
// learn the total; the remaining pages are fetched with at most concurrency
// requests in flight and concatenated in page order. Any page failure aborts
// the drain and no partial result is returned.
func Drain[T any](ctx context.Context, fetch FetchFunc[T], pageSize, concurrency int) ([]T, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	first, count, err := fetch(ctx, Page{Skip: 0, Limit: pageSize, IncludeCount: true})
	if err != nil {
		return nil, wrap(0, err)
	}
	if count <= pageSize {
		if len(first) == 0 {
			return []T{}, nil
		}
		return first, nil
	}

	pages := (count + pageSize - 1) / pageSize
	results := make([][]T, pages)
	results[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 1; i < pages; i++ {
		i := i
		g.Go(func() error {
			items, _, err := fetch(gctx, Page{Skip: i * pageSize, Limit: pageSize})
			if err != nil {
				return wrap(i*pageSize, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, count)
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

func wrap(skip int, err error) error {
	if apperr.CodeOf(err) == apperr.CodeCancelled {
		return err
	}
	return &apperr.Error{
		Code:    apperr.CodeUpstream,
		Op:      "paginate",
		Message: fmt.Sprintf("page at skip=%d", skip),
		Err:     err,
	}
}
