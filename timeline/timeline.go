// Package timeline turns a chain of cursor-paginated page fetches into a bounded,
// lazily produced sequence of items.
//
// A traversal is pull-driven: a page is fetched only when the consumer asks for the
// next item and the current page has been drained. At most one fetch is in flight per
// sequence and nothing is fetched ahead of demand.
package timeline

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// ErrConsumed is yielded when a sequence returned by Paginate is ranged over a second time.
var ErrConsumed = errors.New("timeline: sequence already consumed")

// Page is one fetch worth of items plus the boundary cursors seen in it.
// An empty cursor means the boundary was not present.
type Page[T any] struct {
	Items    []T
	Next     string
	Previous string
}

// Fetcher performs one remote call for the page that starts at cursor.
// maxItems is a page-size hint; the fetcher may return fewer or more items.
// A sparse page that is not the end of the collection is reported as an empty
// Items slice with a Next cursor, never as an error.
type Fetcher[T any] func(ctx context.Context, query string, maxItems int, cursor string) (Page[T], error)

// PageEvent describes one completed fetch round.
type PageEvent struct {
	Query    string
	Page     int // 1-based
	Items    int
	Next     string
	EmptyRun int
	Yielded  int // items yielded before this page
}

// Policy configures termination for one kind of traversal.
type Policy struct {
	// EmptyPageTolerance is the number of consecutive empty pages skipped before the
	// collection counts as exhausted. Zero ends the traversal on the first empty page;
	// negative values are treated as zero.
	EmptyPageTolerance int

	// RequireCursor ends the traversal when a page carries no next cursor.
	// When false, the following fetch starts over with no cursor.
	RequireCursor bool

	// PageHook, if set, is called after every fetch round.
	PageHook func(PageEvent)
}

var (
	// ProfilePolicy tolerates runs of up to five empty pages.
	ProfilePolicy = Policy{EmptyPageTolerance: 5, RequireCursor: true}

	// TweetPolicy stops at the first empty page.
	TweetPolicy = Policy{RequireCursor: true}

	// ListPolicy stops at the first empty page.
	ListPolicy = Policy{RequireCursor: true}
)

// WithHook returns a copy of p that reports each fetch round to hook.
// A nil hook leaves p unchanged.
func (p Policy) WithHook(hook func(PageEvent)) Policy {
	if hook != nil {
		p.PageHook = hook
	}
	return p
}

// state is the traversal state of one sequence.
type state struct {
	yielded  int
	cursor   string
	emptyRun int
	pages    int
}

// Paginate returns a single-pass sequence of at most maxItems items produced by
// repeatedly calling fetch with the cursor returned by the previous call.
//
// The sequence ends when maxItems items were yielded, when a page has no next cursor
// (with RequireCursor), or when more than EmptyPageTolerance consecutive pages were
// empty. Items beyond the budget on the last page are dropped. A fetch error, or a
// cancelled ctx observed before a fetch, is yielded once as-is and ends the sequence.
func Paginate[T any](ctx context.Context, query string, maxItems int, policy Policy, fetch Fetcher[T]) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		var zero T
		if used.Swap(true) {
			yield(zero, ErrConsumed)
			return
		}
		if maxItems <= 0 {
			return
		}
		tolerance := max(policy.EmptyPageTolerance, 0)

		var st state
		for st.yielded < maxItems {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := fetch(ctx, query, maxItems, st.cursor)
			if err != nil {
				yield(zero, err)
				return
			}
			st.pages++
			st.cursor = page.Next

			if len(page.Items) == 0 {
				st.emptyRun++
			} else {
				st.emptyRun = 0
			}
			if policy.PageHook != nil {
				policy.PageHook(PageEvent{
					Query:    query,
					Page:     st.pages,
					Items:    len(page.Items),
					Next:     page.Next,
					EmptyRun: st.emptyRun,
					Yielded:  st.yielded,
				})
			}
			if st.emptyRun > tolerance {
				return
			}

			for _, item := range page.Items {
				if st.yielded >= maxItems {
					break
				}
				st.yielded++
				if !yield(item, nil) {
					return
				}
			}

			if page.Next == "" && policy.RequireCursor {
				return
			}
		}
	}
}

// Collect drains seq into a slice. On error it returns the items gathered so far
// together with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}
