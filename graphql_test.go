package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/anatolykoptev/go-twitter-timeline/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves canned GraphQL bodies keyed by the request cursor.
type fakeAPI struct {
	mu       sync.Mutex
	pages    map[string][]byte
	err      error
	calls    []string // operations
	cursors  []string
	vars     []map[string]any
	rawQuery []url.Values
}

func (f *fakeAPI) get(_ context.Context, endpoint, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	var vars map[string]any
	if err := json.Unmarshal([]byte(q.Get("variables")), &vars); err != nil {
		return nil, err
	}
	cursor, _ := vars["cursor"].(string)

	f.calls = append(f.calls, endpoint)
	f.cursors = append(f.cursors, cursor)
	f.vars = append(f.vars, vars)
	f.rawQuery = append(f.rawQuery, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[cursor], nil
}

func loggedInAccount() *Account {
	return &Account{Username: "reader", AuthToken: "tok", CT0: "csrf", active: true}
}

func newTestClient(api *fakeAPI, accounts ...*Account) *Client {
	c := &Client{accounts: accounts}
	c.get = api.get
	return c
}

func followersPages() map[string][]byte {
	return map[string][]byte{
		"":   wrap(pathUserTimeline, addEntries(userItem("1", "ann"), userItem("2", "bob"), cursorItem("Bottom", "c1"))),
		"c1": wrap(pathUserTimeline, addEntries(cursorItem("Top", "c0"), cursorItem("Bottom", "c2"))),
		"c2": wrap(pathUserTimeline, addEntries(userItem("3", "cid"), userItem("4", "dee"))),
	}
}

func TestGetFollowersPaginates(t *testing.T) {
	api := &fakeAPI{pages: followersPages()}
	c := newTestClient(api, loggedInAccount())

	var events []timeline.PageEvent
	c.cfg.PageHook = func(operation string, ev timeline.PageEvent) {
		assert.Equal(t, "Followers", operation)
		events = append(events, ev)
	}

	profiles, err := timeline.Collect(c.GetFollowers(context.Background(), "42", 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, profileIDs(profiles))
	assert.Equal(t, []string{"", "c1", "c2"}, api.cursors)
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[1].EmptyRun)

	for _, v := range api.vars {
		assert.Equal(t, "42", v["userId"])
		assert.InDelta(t, 10, v["count"], 0)
		assert.Equal(t, false, v["includePromotedContent"])
	}
	_, hasCursor := api.vars[0]["cursor"]
	assert.False(t, hasCursor, "first request must not send a cursor")
}

func TestGetFollowersStopsAtBudget(t *testing.T) {
	api := &fakeAPI{pages: followersPages()}
	c := newTestClient(api, loggedInAccount())

	profiles, err := timeline.Collect(c.GetFollowers(context.Background(), "42", 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, profileIDs(profiles))
	assert.Len(t, api.calls, 3)
}

func TestTweetTraversalStopsOnEmptyPage(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"":   wrap(pathListTweets, addEntries(tweetItem("tweet-1", "1", "a"), cursorItem("Bottom", "c1"))),
		"c1": wrap(pathListTweets, addEntries(cursorItem("Bottom", "c2"))),
		"c2": wrap(pathListTweets, addEntries(tweetItem("tweet-2", "2", "b"))),
	}}
	c := newTestClient(api)

	tweets, err := timeline.Collect(c.GetListTweets(context.Background(), "list-1", 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, tweetIDs(tweets))
	assert.Equal(t, []string{"ListLatestTweetsTimeline", "ListLatestTweetsTimeline"}, api.calls)
}

func TestAuthOnlyOperationsRequireLogin(t *testing.T) {
	api := &fakeAPI{pages: followersPages()}
	c := newTestClient(api)
	ctx := context.Background()

	seqs := map[string]func() error{
		"followers":    func() error { _, err := timeline.Collect(c.GetFollowers(ctx, "1", 5)); return err },
		"following":    func() error { _, err := timeline.Collect(c.GetFollowing(ctx, "1", 5)); return err },
		"retweeters":   func() error { _, err := timeline.Collect(c.GetRetweeters(ctx, "1", 5)); return err },
		"list members": func() error { _, err := timeline.Collect(c.GetListMembers(ctx, "1", 5)); return err },
		"follow":       func() error { return c.FollowUser(ctx, "someone") },
		"unfollow":     func() error { return c.UnfollowUser(ctx, "someone") },
	}
	for name, run := range seqs {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, run(), ErrNotLoggedIn)
		})
	}
	assert.Empty(t, api.calls)
}

func TestInactiveAccountIsNotLoggedIn(t *testing.T) {
	acc := loggedInAccount()
	acc.SetActive(false)
	c := newTestClient(&fakeAPI{}, acc)
	assert.False(t, c.IsLoggedIn())

	c = newTestClient(&fakeAPI{}, &Account{Username: "nocookies", active: true})
	assert.False(t, c.IsLoggedIn())
}

func TestFetchSurfacesAPIError(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"errors":[{"code":34,"message":"Sorry, that page does not exist."}]}`),
	}}
	c := newTestClient(api, loggedInAccount())

	profiles, err := timeline.Collect(c.GetFollowing(context.Background(), "1", 5))
	assert.Empty(t, profiles)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Following", apiErr.Operation)
	assert.Equal(t, 34, apiErr.Code)
}

func TestFetchWrapsTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	c := newTestClient(&fakeAPI{err: boom})

	_, err := timeline.Collect(c.GetUserTweets(context.Background(), "1", 5))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "UserTweets")
}

func TestPageCountIsClamped(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{}}
	c := newTestClient(api, loggedInAccount())
	ctx := context.Background()

	_, err := c.FetchFollowers(ctx, "1", 500, "")
	require.NoError(t, err)
	_, err = c.FetchListMembers(ctx, "1", 500, "")
	require.NoError(t, err)
	_, err = c.FetchRetweeters(ctx, "1", 500, "")
	require.NoError(t, err)
	_, err = c.FetchUserTweets(ctx, "1", 7, "")
	require.NoError(t, err)

	counts := make([]float64, 0, len(api.vars))
	for _, v := range api.vars {
		counts = append(counts, v["count"].(float64))
	}
	assert.Equal(t, []float64{50, 100, 20, 7}, counts)
}

func TestSearchRequestVariables(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": wrap(pathSearch, addEntries(tweetItem("tweet-1", "1", "gophers"), cursorItem("Bottom", "s1"))),
	}}
	c := newTestClient(api)

	page, err := c.FetchSearchTweets(SearchLatest)(context.Background(), "golang", 20, "")
	require.NoError(t, err)
	assert.Equal(t, "s1", page.Next)

	v := api.vars[0]
	assert.Equal(t, "golang", v["rawQuery"])
	assert.Equal(t, "Latest", v["product"])
	assert.Equal(t, "typed_query", v["querySource"])
	assert.JSONEq(t, `{"withArticleRichContentState":false}`, api.rawQuery[0].Get("fieldToggles"))
	assert.NotEmpty(t, api.rawQuery[0].Get("features"))

	_, err = c.FetchSearchProfiles(context.Background(), "golang", 20, "")
	require.NoError(t, err)
	assert.Equal(t, "People", api.vars[1]["product"])

	_, err = c.FetchSearchLists(context.Background(), "golang", 20, "")
	require.NoError(t, err)
	assert.Equal(t, "Lists", api.vars[2]["product"])
}

func TestSearchTweetsSequence(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"":   wrap(pathSearch, addEntries(tweetItem("tweet-1", "1", "a"), tweetItem("tweet-2", "2", "b"), cursorItem("Bottom", "s1"))),
		"s1": wrap(pathSearch, addEntries(tweetItem("tweet-3", "3", "c"))),
	}}
	c := newTestClient(api)

	tweets, err := timeline.Collect(c.SearchTweets(context.Background(), "go", 10, SearchTop))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, tweetIDs(tweets))
	assert.Equal(t, "Top", api.vars[0]["product"])
}

func TestGetUserIDByScreenName(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"data":{"user":{"result":` + userJSON("777", "gopher") + `}}}`),
	}}
	c := newTestClient(api)

	id, err := c.GetUserIDByScreenName(context.Background(), "@gopher")
	require.NoError(t, err)
	assert.Equal(t, "777", id)
	assert.Equal(t, "gopher", api.vars[0]["screen_name"])
	assert.Equal(t, []string{"UserByScreenName"}, api.calls)
}

func TestGetUserByID(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"data":{"user":{"result":` + userJSON("777", "gopher") + `}}}`),
	}}
	c := newTestClient(api)

	p, err := c.GetUserByID(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, "gopher", p.Username)
	assert.Equal(t, "777", api.vars[0]["userId"])
	assert.Equal(t, []string{"UserByRestId"}, api.calls)
	assert.Contains(t, api.rawQuery[0].Get("features"), "responsive_web_graphql_timeline_navigation_enabled")
}

func TestGetUserByIDUnavailable(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"data":{"user":{"result":{"__typename":"UserUnavailable"}}}}`),
	}}
	_, err := newTestClient(api).GetUserByID(context.Background(), "1")
	assert.ErrorContains(t, err, "user unavailable")
}

func TestSearchTweetsRejectsNonTweetTabs(t *testing.T) {
	for _, mode := range []SearchMode{SearchPeople, SearchLists} {
		api := &fakeAPI{}
		c := newTestClient(api)

		tweets, err := timeline.Collect(c.SearchTweets(context.Background(), "go", 10, mode))
		assert.ErrorContains(t, err, "carries no tweets", mode.product())
		assert.Empty(t, tweets)
		assert.Empty(t, api.calls, "no request for %s", mode.product())
	}
}

func TestFollowUserPostsForm(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"data":{"user":{"result":` + userJSON("777", "gopher") + `}}}`),
	}}
	c := newTestClient(api, loggedInAccount())

	var posted []request
	var endpoints []string
	c.post = func(_ context.Context, endpoint string, req request) ([]byte, error) {
		endpoints = append(endpoints, endpoint)
		posted = append(posted, req)
		return []byte(`{"id_str":"777"}`), nil
	}

	require.NoError(t, c.FollowUser(context.Background(), "gopher"))
	require.NoError(t, c.UnfollowUser(context.Background(), "gopher"))

	assert.Equal(t, []string{"FollowUser", "UnfollowUser"}, endpoints)
	require.Len(t, posted, 2)
	assert.Equal(t, friendshipsCreateURL, posted[0].url)
	assert.Equal(t, friendshipsDestroyURL, posted[1].url)
	for _, req := range posted {
		assert.Equal(t, "POST", req.method)
		assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
		form, err := url.ParseQuery(string(req.payload))
		require.NoError(t, err)
		assert.Equal(t, "777", form.Get("user_id"))
	}
}

func TestFollowUserSurfacesAPIError(t *testing.T) {
	api := &fakeAPI{pages: map[string][]byte{
		"": []byte(`{"data":{"user":{"result":` + userJSON("777", "gopher") + `}}}`),
	}}
	c := newTestClient(api, loggedInAccount())
	c.post = func(context.Context, string, request) ([]byte, error) {
		return []byte(`{"errors":[{"code":161,"message":"You are unable to follow more people at this time."}]}`), nil
	}

	var apiErr *APIError
	require.ErrorAs(t, c.FollowUser(context.Background(), "gopher"), &apiErr)
	assert.Equal(t, 161, apiErr.Code)
}

func TestPolicyWithoutHookIsUnchanged(t *testing.T) {
	c := newTestClient(&fakeAPI{})
	p := c.policy("Followers", timeline.ProfilePolicy)
	assert.Nil(t, p.PageHook)
	assert.Equal(t, 5, p.EmptyPageTolerance)
}
