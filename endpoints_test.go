package twitter

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointPageCount(t *testing.T) {
	capped := Endpoint{MaxCount: 50}
	assert.Equal(t, 50, capped.pageCount(500))
	assert.Equal(t, 50, capped.pageCount(0))
	assert.Equal(t, 10, capped.pageCount(10))

	uncapped := Endpoint{}
	assert.Equal(t, 500, uncapped.pageCount(500))
}

func TestEndpointCaps(t *testing.T) {
	caps := map[string]int{
		"Followers":                50,
		"Following":                50,
		"Retweeters":               20,
		"ListMembers":              100,
		"ListLatestTweetsTimeline": 100,
		"UserTweets":               40,
		"SearchTimeline":           50,
	}
	for op, want := range caps {
		ep, err := lookupEndpoint(op)
		require.NoError(t, err, op)
		assert.Equal(t, want, ep.MaxCount, op)
		assert.Equal(t, op, ep.Name)
	}
}

func TestLookupEndpointUnknown(t *testing.T) {
	_, err := EndpointURL("NoSuchOperation")
	assert.True(t, errors.Is(err, ErrUnknownOperation))
	assert.False(t, requiresAuth("NoSuchOperation"))
	assert.True(t, requiresAuth("Followers"))
	assert.False(t, requiresAuth("SearchTimeline"))
}

func TestAddGraphQLParams(t *testing.T) {
	raw := addGraphQLParams("https://x.com/i/api/graphql/ID/Op",
		map[string]any{"userId": "1", "count": 20},
		map[string]any{"b": true, "a": false},
	)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/i/api/graphql/ID/Op", u.Path)

	q := u.Query()
	assert.Equal(t, `{"count":20,"userId":"1"}`, q.Get("variables"))
	assert.Equal(t, `{"a":false,"b":true}`, q.Get("features"))
	assert.Empty(t, q.Get("fieldToggles"))

	var vars map[string]any
	require.NoError(t, json.Unmarshal([]byte(q.Get("variables")), &vars))

	again := addGraphQLParams("https://x.com/i/api/graphql/ID/Op",
		map[string]any{"count": 20, "userId": "1"},
		map[string]any{"a": false, "b": true},
	)
	assert.Equal(t, raw, again, "parameters must serialize deterministically")

	withQuery := addGraphQLParams("https://x.com/path?x=1", nil, nil, map[string]any{"t": true})
	assert.True(t, strings.HasPrefix(withQuery, "https://x.com/path?x=1&"))
}

func TestRelationshipFeaturesOverrideBase(t *testing.T) {
	f := relationshipFeatures()
	assert.Equal(t, false, f["responsive_web_twitter_article_tweet_consumption_enabled"])
	assert.Equal(t, true, gqlFeatures()["responsive_web_twitter_article_tweet_consumption_enabled"])
	assert.Equal(t, true, f["view_counts_everywhere_api_enabled"])
}
