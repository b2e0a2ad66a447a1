package twitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMapProfile(t *testing.T) {
	legacy := gjson.Parse(`{
		"id_str": "7",
		"screen_name": "gopher",
		"name": "Gopher",
		"description": "  digs  ",
		"location": "Earth",
		"url": "https://t.co/abc",
		"entities": {"url": {"urls": [{"expanded_url": "https://go.dev"}]}},
		"profile_image_url_https": "https://pbs.twimg.com/a_normal.png",
		"profile_banner_url": "https://pbs.twimg.com/b",
		"followers_count": 1,
		"friends_count": 2,
		"statuses_count": 3,
		"listed_count": 4,
		"favourites_count": 5,
		"media_count": 6,
		"created_at": "Tue Mar 21 20:50:14 +0000 2006",
		"protected": true,
		"verified": true
	}`)

	p := mapProfile(legacy, false)
	assert.Equal(t, &Profile{
		ID:          "7",
		Username:    "gopher",
		Name:        "Gopher",
		Bio:         "digs",
		Location:    "Earth",
		Website:     "https://go.dev",
		AvatarURL:   "https://pbs.twimg.com/a.png",
		BannerURL:   "https://pbs.twimg.com/b",
		Followers:   1,
		Following:   2,
		TweetCount:  3,
		ListedCount: 4,
		LikesCount:  5,
		MediaCount:  6,
		Joined:      time.Date(2006, 3, 21, 20, 50, 14, 0, time.UTC),
		IsPrivate:   true,
		IsVerified:  true,
		HasAvatar:   true,
		HasBio:      true,
	}, withUTC(p))
}

// withUTC normalizes the parsed time location for struct comparison.
func withUTC(p *Profile) *Profile {
	p.Joined = p.Joined.UTC()
	return p
}

func TestMapProfileDefaults(t *testing.T) {
	p := mapProfile(gjson.Parse(`{"url":"https://t.co/x","profile_image_url_https":"https://abs.twimg.com/default_profile_normal.png"}`), true)
	assert.Equal(t, "https://t.co/x", p.Website)
	assert.False(t, p.HasAvatar)
	assert.False(t, p.HasBio)
	assert.True(t, p.IsBlueVerified)
	assert.True(t, p.Joined.IsZero())
}

func TestMapUserResultCoreFallback(t *testing.T) {
	p, ok := mapUserResult(gjson.Parse(`{"rest_id":"9","core":{"screen_name":"neo","name":"Neo"},"legacy":{}}`))
	require.True(t, ok)
	assert.Equal(t, "9", p.ID)
	assert.Equal(t, "neo", p.Username)
	assert.Equal(t, "Neo", p.Name)

	_, ok = mapUserResult(gjson.Parse(`{"__typename":"UserUnavailable"}`))
	assert.False(t, ok)
}

func TestMapTweet(t *testing.T) {
	result := gjson.Parse(`{
		"rest_id": "100",
		"core": {"user_results": {"result": {"rest_id": "5", "legacy": {"screen_name": "ann", "name": "Ann"}}}},
		"views": {"count": "1234"},
		"note_tweet": {"note_tweet_results": {"result": {"text": "long form $eth"}}},
		"legacy": {
			"full_text": "short",
			"conversation_id_str": "90",
			"created_at": "Mon Jan 02 15:04:05 +0000 2024",
			"favorite_count": 1,
			"retweet_count": 2,
			"reply_count": 3,
			"quote_count": 4,
			"bookmark_count": 5,
			"in_reply_to_status_id_str": "80",
			"is_quote_status": true,
			"quoted_status_id_str": "70",
			"entities": {
				"hashtags": [{"text": "go"}, {"text": ""}],
				"urls": [{"expanded_url": "https://go.dev"}],
				"user_mentions": [{"screen_name": "bob"}]
			},
			"retweeted_status_result": {"result": {"rest_id": "60"}}
		}
	}`)

	tw, ok := mapTweet(result, "ignored")
	require.True(t, ok)
	assert.Equal(t, "100", tw.ID)
	assert.Equal(t, "90", tw.ConversationID)
	assert.Equal(t, "5", tw.AuthorID)
	assert.Equal(t, "ann", tw.Username)
	assert.Equal(t, "Ann", tw.Name)
	assert.Equal(t, "long form $eth", tw.Text)
	assert.Equal(t, 1234, tw.Views)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, []int{tw.Likes, tw.Retweets, tw.Replies, tw.Quotes, tw.Bookmarks})
	assert.Equal(t, []string{"go"}, tw.Hashtags)
	assert.Equal(t, []string{"https://go.dev"}, tw.URLs)
	assert.Equal(t, []string{"bob"}, tw.Mentions)
	assert.Equal(t, []string{"ETH"}, tw.TokenMentions)
	assert.True(t, tw.IsReply)
	assert.Equal(t, "80", tw.InReplyToID)
	assert.True(t, tw.IsQuoted)
	assert.Equal(t, "70", tw.QuotedID)
	assert.True(t, tw.IsRetweet)
	assert.Equal(t, "60", tw.RetweetedID)
	assert.Equal(t, 2024, tw.CreatedAt.Year())
}

func TestMapTweetDegradesOnBadFields(t *testing.T) {
	tw, ok := mapTweet(gjson.Parse(`{"views":{"count":"n/a"},"legacy":{"created_at":"yesterday","favorite_count":"x"}}`), "")
	require.True(t, ok)
	assert.Empty(t, tw.ID)
	assert.Zero(t, tw.Views)
	assert.Zero(t, tw.Likes)
	assert.True(t, tw.CreatedAt.IsZero())
	assert.False(t, tw.IsReply)
	assert.False(t, tw.IsRetweet)
}

func TestMapList(t *testing.T) {
	rec := mapList(gjson.Parse(`{"id":"L1","id_str":"1","name":"gophers","description":"d","member_count":10,"subscriber_count":2,"created_at":"1700000000000"}`))
	assert.Equal(t, "L1", rec.ID)
	assert.Equal(t, "1", rec.IDStr)
	assert.Equal(t, 10, rec.MemberCount)
	assert.Equal(t, 2, rec.SubscriberCount)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), rec.CreatedAt)
	require.NotNil(t, rec.Owner)
	assert.Empty(t, rec.Owner.ID)
}

func TestParseListTime(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch number", `{"v":1700000000000}`, time.UnixMilli(1700000000000).UTC()},
		{"epoch string", `{"v":"1700000000000"}`, time.UnixMilli(1700000000000).UTC()},
		{"legacy layout", `{"v":"Mon Jan 02 15:04:05 +0000 2024"}`, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"garbage", `{"v":"soon"}`, time.Time{}},
		{"missing", `{}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseListTime(gjson.Get(tt.raw, "v"))
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestExtractTokenMentions(t *testing.T) {
	tests := []struct {
		text     string
		expected []string
	}{
		{"Hello $BTC and $ETH", []string{"BTC", "ETH"}},
		{"No mentions here", nil},
		{"$BTC $btc duplicate", []string{"BTC"}},
		{"$A too short", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, extractTokenMentions(tt.text), tt.text)
	}
}
