package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	twitter "github.com/anatolykoptev/go-twitter-timeline"
	"github.com/sourcegraph/conc/pool"
)

// traversal produces the items for one command-line argument.
type traversal func(ctx context.Context, query string) iter.Seq2[any, error]

// resolver maps a command-line argument to the query the traversal expects.
type resolver func(ctx context.Context, arg string) (string, error)

type traversalCommand struct {
	name    string
	short   string
	arg     string
	handles bool // arguments may be @screen_names
	build   func(c *twitter.Client, cfg config) traversal
}

var commands = []traversalCommand{
	{name: "followers", short: "Accounts following a user", arg: "user-id|@name", handles: true,
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Profile, error] {
				return c.GetFollowers(ctx, q, cfg.Max)
			})
		}},
	{name: "following", short: "Accounts a user follows", arg: "user-id|@name", handles: true,
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Profile, error] {
				return c.GetFollowing(ctx, q, cfg.Max)
			})
		}},
	{name: "retweeters", short: "Accounts that retweeted a tweet", arg: "tweet-id",
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Profile, error] {
				return c.GetRetweeters(ctx, q, cfg.Max)
			})
		}},
	{name: "list-members", short: "Members of a list", arg: "list-id",
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Profile, error] {
				return c.GetListMembers(ctx, q, cfg.Max)
			})
		}},
	{name: "list-tweets", short: "Latest tweets of a list", arg: "list-id",
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Tweet, error] {
				return c.GetListTweets(ctx, q, cfg.Max)
			})
		}},
	{name: "user-tweets", short: "Tweets of a user", arg: "user-id|@name", handles: true,
		build: func(c *twitter.Client, cfg config) traversal {
			return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Tweet, error] {
				return c.GetUserTweets(ctx, q, cfg.Max)
			})
		}},
	{name: "search", short: "Search tweets, profiles or lists", arg: "query",
		build: searchTraversal},
	{name: "user", short: "Profile of a user", arg: "user-id|@name",
		build: func(c *twitter.Client, _ config) traversal { return single(userLookup(c)) }},
}

// userLookup fetches a profile by @screen_name or numeric ID.
func userLookup(c interface {
	GetUserByScreenName(ctx context.Context, handle string) (*twitter.Profile, error)
	GetUserByID(ctx context.Context, userID string) (*twitter.Profile, error)
}) func(ctx context.Context, arg string) (*twitter.Profile, error) {
	return func(ctx context.Context, arg string) (*twitter.Profile, error) {
		if strings.HasPrefix(arg, "@") {
			return c.GetUserByScreenName(ctx, arg)
		}
		return c.GetUserByID(ctx, arg)
	}
}

// searchKind returns the result kind for a search. The People and Lists tabs
// select their own kind; asking them for tweets is an error.
func searchKind(kind string, mode twitter.SearchMode) (string, error) {
	kind = strings.ToLower(kind)
	switch kind {
	case "", "tweets":
		switch mode {
		case twitter.SearchPeople:
			if kind == "tweets" {
				return "", fmt.Errorf("search tab People has no tweets; use --kind profiles")
			}
			return "profiles", nil
		case twitter.SearchLists:
			if kind == "tweets" {
				return "", fmt.Errorf("search tab Lists has no tweets; use --kind lists")
			}
			return "lists", nil
		}
		return "tweets", nil
	case "people":
		return "profiles", nil
	case "profiles", "lists":
		return kind, nil
	}
	return "", fmt.Errorf("unknown search kind %q", kind)
}

func searchTraversal(c *twitter.Client, cfg config) traversal {
	mode := twitter.ParseSearchMode(cfg.Mode)
	kind, err := searchKind(cfg.Kind, mode)
	if err != nil {
		return failed(err)
	}
	switch kind {
	case "profiles":
		return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Profile, error] {
			return c.SearchProfiles(ctx, q, cfg.Max)
		})
	case "lists":
		return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.ListRecord, error] {
			return c.SearchLists(ctx, q, cfg.Max)
		})
	default:
		return typed(func(ctx context.Context, q string) iter.Seq2[*twitter.Tweet, error] {
			return c.SearchTweets(ctx, q, cfg.Max, mode)
		})
	}
}

// failed is a traversal that yields err for every argument.
func failed(err error) traversal {
	return func(context.Context, string) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			yield(nil, err)
		}
	}
}

// single adapts a one-shot lookup into a traversal of one item.
func single[T any](f func(ctx context.Context, query string) (T, error)) traversal {
	return func(ctx context.Context, query string) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			item, err := f(ctx, query)
			if err != nil {
				yield(nil, err)
				return
			}
			yield(item, nil)
		}
	}
}

// typed erases the item type of a sequence-producing func.
func typed[T any](f func(ctx context.Context, query string) iter.Seq2[T, error]) traversal {
	return func(ctx context.Context, query string) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for item, err := range f(ctx, query) {
				if !yield(item, err) {
					return
				}
			}
		}
	}
}

func passThrough(_ context.Context, arg string) (string, error) { return arg, nil }

// handleResolver resolves @screen_name arguments to user IDs.
func handleResolver(c interface {
	GetUserIDByScreenName(ctx context.Context, handle string) (string, error)
}) resolver {
	return func(ctx context.Context, arg string) (string, error) {
		if !strings.HasPrefix(arg, "@") {
			return arg, nil
		}
		id, err := c.GetUserIDByScreenName(ctx, arg)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", arg, err)
		}
		slog.Debug("resolved screen name", slog.String("handle", arg), slog.String("id", id))
		return id, nil
	}
}

// record is one output line.
type record struct {
	Query string `json:"query"`
	Item  any    `json:"item"`
}

// syncWriter serializes whole groups of lines onto w.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(b)
	return err
}

// runTraversals runs t for every argument, at most parallel at a time, and writes
// each argument's items as a contiguous block of JSON lines. Items gathered before
// a traversal error are still written. The first error is returned.
func runTraversals(ctx context.Context, args []string, resolve resolver, t traversal, parallel int, out io.Writer) error {
	if parallel < 1 {
		parallel = 1
	}
	sw := &syncWriter{w: out}
	p := pool.New().WithContext(ctx).WithFirstError().WithMaxGoroutines(parallel)

	for _, arg := range args {
		p.Go(func(ctx context.Context) error {
			query, err := resolve(ctx, arg)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			n := 0
			var travErr error
			for item, err := range t(ctx, query) {
				if err != nil {
					travErr = fmt.Errorf("%s: %w", arg, err)
					break
				}
				if err := enc.Encode(record{Query: arg, Item: item}); err != nil {
					travErr = fmt.Errorf("%s: encode: %w", arg, err)
					break
				}
				n++
			}
			slog.Info("traversal finished", slog.String("query", arg), slog.Int("items", n))
			if err := sw.write(buf.Bytes()); err != nil {
				return err
			}
			return travErr
		})
	}
	return p.Wait()
}
