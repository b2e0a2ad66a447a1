package twitter

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/anatolykoptev/go-twitter-timeline/timeline"
)

// fetchPage performs one GraphQL timeline request and extracts its page.
// count is clamped to the endpoint's page-size cap; cursor is sent only when set.
func fetchPage[T any](ctx context.Context, c *Client, operation string, variables map[string]any, count int, cursor string, ex Extractor[T], fieldToggles ...map[string]any) (timeline.Page[T], error) {
	ep, err := lookupEndpoint(operation)
	if err != nil {
		return timeline.Page[T]{}, err
	}
	if ep.RequiresAuth && !c.IsLoggedIn() {
		return timeline.Page[T]{}, fmt.Errorf("%s: %w", operation, ErrNotLoggedIn)
	}

	variables["count"] = ep.pageCount(count)
	if cursor != "" {
		variables["cursor"] = cursor
	}
	body, err := c.get(ctx, operation, addGraphQLParams(ep.URL(), variables, ep.Features, fieldToggles...))
	if err != nil {
		return timeline.Page[T]{}, fmt.Errorf("%s: %w", operation, err)
	}
	if err := responseError(operation, body); err != nil {
		return timeline.Page[T]{}, err
	}
	return ex.Extract(body), nil
}

// policy attaches the configured page hook, tagged with operation, to p.
func (c *Client) policy(operation string, p timeline.Policy) timeline.Policy {
	if c.cfg.PageHook == nil {
		return p
	}
	hook := c.cfg.PageHook
	return p.WithHook(func(ev timeline.PageEvent) { hook(operation, ev) })
}

// --- Page fetchers ---

// FetchFollowers fetches one page of the accounts following userID.
func (c *Client) FetchFollowers(ctx context.Context, userID string, maxItems int, cursor string) (timeline.Page[*Profile], error) {
	return fetchPage(ctx, c, "Followers", map[string]any{
		"userId":                 userID,
		"includePromotedContent": false,
	}, maxItems, cursor, followExtractor)
}

// FetchFollowing fetches one page of the accounts userID follows.
func (c *Client) FetchFollowing(ctx context.Context, userID string, maxItems int, cursor string) (timeline.Page[*Profile], error) {
	return fetchPage(ctx, c, "Following", map[string]any{
		"userId":                 userID,
		"includePromotedContent": false,
	}, maxItems, cursor, followExtractor)
}

// FetchRetweeters fetches one page of the accounts that retweeted tweetID.
func (c *Client) FetchRetweeters(ctx context.Context, tweetID string, maxItems int, cursor string) (timeline.Page[*Profile], error) {
	return fetchPage(ctx, c, "Retweeters", map[string]any{
		"tweetId":                tweetID,
		"includePromotedContent": true,
	}, maxItems, cursor, retweeterExtractor)
}

// FetchListMembers fetches one page of the members of listID.
func (c *Client) FetchListMembers(ctx context.Context, listID string, maxItems int, cursor string) (timeline.Page[*Profile], error) {
	return fetchPage(ctx, c, "ListMembers", map[string]any{
		"listId":                   listID,
		"withSafetyModeUserFields": true,
	}, maxItems, cursor, memberExtractor)
}

// FetchListTweets fetches one page of the latest tweets of listID.
func (c *Client) FetchListTweets(ctx context.Context, listID string, maxItems int, cursor string) (timeline.Page[*Tweet], error) {
	return fetchPage(ctx, c, "ListLatestTweetsTimeline", map[string]any{
		"listId": listID,
	}, maxItems, cursor, listTweetExtractor)
}

// FetchUserTweets fetches one page of userID's tweets.
func (c *Client) FetchUserTweets(ctx context.Context, userID string, maxItems int, cursor string) (timeline.Page[*Tweet], error) {
	return fetchPage(ctx, c, "UserTweets", map[string]any{
		"userId":                                 userID,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}, maxItems, cursor, userTweetExtractor)
}

func searchVariables(query string, mode SearchMode) map[string]any {
	return map[string]any{
		"rawQuery":    query,
		"querySource": "typed_query",
		"product":     mode.product(),
	}
}

var searchFieldToggles = map[string]any{"withArticleRichContentState": false}

// FetchSearchTweets returns a fetcher for tweet search pages in the given mode.
// The People and Lists tabs carry no tweets; use FetchSearchProfiles and FetchSearchLists.
func (c *Client) FetchSearchTweets(mode SearchMode) timeline.Fetcher[*Tweet] {
	return func(ctx context.Context, query string, maxItems int, cursor string) (timeline.Page[*Tweet], error) {
		if !mode.carriesTweets() {
			return timeline.Page[*Tweet]{}, fmt.Errorf("SearchTimeline: %s tab carries no tweets", mode.product())
		}
		return fetchPage(ctx, c, "SearchTimeline", searchVariables(query, mode), maxItems, cursor, searchTweetExtractor, searchFieldToggles)
	}
}

// FetchSearchProfiles fetches one page of the People search tab.
func (c *Client) FetchSearchProfiles(ctx context.Context, query string, maxItems int, cursor string) (timeline.Page[*Profile], error) {
	return fetchPage(ctx, c, "SearchTimeline", searchVariables(query, SearchPeople), maxItems, cursor, searchUserExtractor, searchFieldToggles)
}

// FetchSearchLists fetches one page of the Lists search tab.
func (c *Client) FetchSearchLists(ctx context.Context, query string, maxItems int, cursor string) (timeline.Page[*ListRecord], error) {
	return fetchPage(ctx, c, "SearchTimeline", searchVariables(query, SearchLists), maxItems, cursor, searchListExtractor, searchFieldToggles)
}

// --- Lazy sequences ---

// GetFollowers returns up to maxProfiles accounts following userID.
func (c *Client) GetFollowers(ctx context.Context, userID string, maxProfiles int) iter.Seq2[*Profile, error] {
	return timeline.Paginate(ctx, userID, maxProfiles, c.policy("Followers", timeline.ProfilePolicy), c.FetchFollowers)
}

// GetFollowing returns up to maxProfiles accounts userID follows.
func (c *Client) GetFollowing(ctx context.Context, userID string, maxProfiles int) iter.Seq2[*Profile, error] {
	return timeline.Paginate(ctx, userID, maxProfiles, c.policy("Following", timeline.ProfilePolicy), c.FetchFollowing)
}

// GetRetweeters returns up to maxProfiles accounts that retweeted tweetID.
func (c *Client) GetRetweeters(ctx context.Context, tweetID string, maxProfiles int) iter.Seq2[*Profile, error] {
	return timeline.Paginate(ctx, tweetID, maxProfiles, c.policy("Retweeters", timeline.ProfilePolicy), c.FetchRetweeters)
}

// GetListMembers returns up to maxProfiles members of listID.
func (c *Client) GetListMembers(ctx context.Context, listID string, maxProfiles int) iter.Seq2[*Profile, error] {
	return timeline.Paginate(ctx, listID, maxProfiles, c.policy("ListMembers", timeline.ProfilePolicy), c.FetchListMembers)
}

// GetListTweets returns up to maxTweets of the latest tweets of listID.
func (c *Client) GetListTweets(ctx context.Context, listID string, maxTweets int) iter.Seq2[*Tweet, error] {
	return timeline.Paginate(ctx, listID, maxTweets, c.policy("ListLatestTweetsTimeline", timeline.TweetPolicy), c.FetchListTweets)
}

// GetUserTweets returns up to maxTweets of userID's tweets, newest first.
func (c *Client) GetUserTweets(ctx context.Context, userID string, maxTweets int) iter.Seq2[*Tweet, error] {
	return timeline.Paginate(ctx, userID, maxTweets, c.policy("UserTweets", timeline.TweetPolicy), c.FetchUserTweets)
}

// SearchTweets returns up to maxTweets tweets matching query.
func (c *Client) SearchTweets(ctx context.Context, query string, maxTweets int, mode SearchMode) iter.Seq2[*Tweet, error] {
	return timeline.Paginate(ctx, query, maxTweets, c.policy("SearchTimeline", timeline.TweetPolicy), c.FetchSearchTweets(mode))
}

// SearchProfiles returns up to maxProfiles accounts matching query.
func (c *Client) SearchProfiles(ctx context.Context, query string, maxProfiles int) iter.Seq2[*Profile, error] {
	return timeline.Paginate(ctx, query, maxProfiles, c.policy("SearchTimeline", timeline.ProfilePolicy), c.FetchSearchProfiles)
}

// SearchLists returns up to maxLists lists matching query.
func (c *Client) SearchLists(ctx context.Context, query string, maxLists int) iter.Seq2[*ListRecord, error] {
	return timeline.Paginate(ctx, query, maxLists, c.policy("SearchTimeline", timeline.ListPolicy), c.FetchSearchLists)
}

// --- Profiles and relationships ---

// GetUserByScreenName fetches a user profile by Twitter handle.
func (c *Client) GetUserByScreenName(ctx context.Context, handle string) (*Profile, error) {
	return c.userLookup(ctx, "UserByScreenName", map[string]any{
		"screen_name":              strings.TrimPrefix(handle, "@"),
		"withSafetyModeUserFields": true,
	})
}

// GetUserByID fetches a user profile by numeric user ID.
func (c *Client) GetUserByID(ctx context.Context, userID string) (*Profile, error) {
	return c.userLookup(ctx, "UserByRestId", map[string]any{
		"userId":                   userID,
		"withSafetyModeUserFields": true,
	})
}

func (c *Client) userLookup(ctx context.Context, operation string, variables map[string]any) (*Profile, error) {
	ep, err := lookupEndpoint(operation)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, ep.Name, addGraphQLParams(ep.URL(), variables, ep.Features))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return parseUser(operation, body)
}

// GetUserIDByScreenName resolves a handle to its numeric user ID.
func (c *Client) GetUserIDByScreenName(ctx context.Context, handle string) (string, error) {
	p, err := c.GetUserByScreenName(ctx, handle)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// FollowUser follows the account with the given handle.
func (c *Client) FollowUser(ctx context.Context, handle string) error {
	return c.friendship(ctx, "FollowUser", friendshipsCreateURL, handle, url.Values{
		"include_profile_interstitial_type": {"1"},
		"skip_status":                       {"true"},
	})
}

// UnfollowUser unfollows the account with the given handle.
func (c *Client) UnfollowUser(ctx context.Context, handle string) error {
	form := url.Values{"skip_status": {"1"}}
	for _, k := range []string{
		"include_profile_interstitial_type", "include_blocking", "include_blocked_by",
		"include_followed_by", "include_want_retweets", "include_mute_edge", "include_can_dm",
		"include_can_media_tag", "include_ext_is_blue_verified", "include_ext_verified_type",
		"include_ext_profile_image_shape",
	} {
		form.Set(k, "1")
	}
	return c.friendship(ctx, "UnfollowUser", friendshipsDestroyURL, handle, form)
}

// friendship resolves handle and posts a friendships mutation for it.
func (c *Client) friendship(ctx context.Context, operation, endpointURL, handle string, form url.Values) error {
	if !c.IsLoggedIn() {
		return fmt.Errorf("%s: %w", operation, ErrNotLoggedIn)
	}
	userID, err := c.GetUserIDByScreenName(ctx, handle)
	if err != nil {
		return fmt.Errorf("%s: resolve %s: %w", operation, handle, err)
	}
	form.Set("user_id", userID)
	body, err := c.post(ctx, operation, request{
		method:      "POST",
		url:         endpointURL,
		contentType: "application/x-www-form-urlencoded",
		payload:     []byte(form.Encode()),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return responseError(operation, body)
}
