package twitter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// twitterTimeLayout is the created_at format used by legacy objects.
const twitterTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

var tokenMentionRe = regexp.MustCompile(`\$([A-Z]{2,10})`)

// mapProfile maps a raw user "legacy" object. Missing fields keep their zero value.
func mapProfile(legacy gjson.Result, blueVerified bool) *Profile {
	bio := strings.TrimSpace(legacy.Get("description").String())
	avatar := strings.Replace(legacy.Get("profile_image_url_https").String(), "_normal.", ".", 1)

	website := legacy.Get("entities.url.urls.0.expanded_url").String()
	if website == "" {
		website = legacy.Get("url").String()
	}

	return &Profile{
		ID:             legacy.Get("id_str").String(),
		Username:       legacy.Get("screen_name").String(),
		Name:           legacy.Get("name").String(),
		Bio:            bio,
		Location:       legacy.Get("location").String(),
		Website:        website,
		AvatarURL:      avatar,
		BannerURL:      legacy.Get("profile_banner_url").String(),
		Followers:      int(legacy.Get("followers_count").Int()),
		Following:      int(legacy.Get("friends_count").Int()),
		TweetCount:     int(legacy.Get("statuses_count").Int()),
		ListedCount:    int(legacy.Get("listed_count").Int()),
		LikesCount:     int(legacy.Get("favourites_count").Int()),
		MediaCount:     int(legacy.Get("media_count").Int()),
		Joined:         parseTwitterTime(legacy.Get("created_at").String()),
		IsPrivate:      legacy.Get("protected").Bool(),
		IsVerified:     legacy.Get("verified").Bool(),
		IsBlueVerified: blueVerified,
		HasAvatar:      avatar != "" && !strings.Contains(avatar, "default_profile"),
		HasBio:         bio != "",
	}
}

// mapUserResult maps a user_results.result node. It reports false when the node
// has no legacy object (unavailable or suspended users). The ID falls back to rest_id.
func mapUserResult(result gjson.Result) (*Profile, bool) {
	legacy := result.Get("legacy")
	if !legacy.IsObject() {
		return nil, false
	}
	p := mapProfile(legacy, result.Get("is_blue_verified").Bool())
	if p.ID == "" {
		p.ID = result.Get("rest_id").String()
	}
	// Newer payloads moved screen_name and name under "core".
	if p.Username == "" {
		p.Username = result.Get("core.screen_name").String()
	}
	if p.Name == "" {
		p.Name = result.Get("core.name").String()
	}
	return p, true
}

// mapTweet maps a tweet_results.result node. fallbackID is used when neither
// legacy.id_str nor rest_id is present. It reports false when the node has no legacy object.
func mapTweet(result gjson.Result, fallbackID string) (*Tweet, bool) {
	if result.Get("__typename").String() == "TweetWithVisibilityResults" {
		result = result.Get("tweet")
	}
	legacy := result.Get("legacy")
	if !legacy.IsObject() {
		return nil, false
	}

	user := result.Get("core.user_results.result")
	tw := &Tweet{
		ID:             firstNonEmpty(legacy.Get("id_str").String(), result.Get("rest_id").String(), fallbackID),
		ConversationID: legacy.Get("conversation_id_str").String(),
		AuthorID:       firstNonEmpty(legacy.Get("user_id_str").String(), user.Get("rest_id").String()),
		Username:       firstNonEmpty(user.Get("legacy.screen_name").String(), user.Get("core.screen_name").String()),
		Name:           firstNonEmpty(user.Get("legacy.name").String(), user.Get("core.name").String()),
		Text:           firstNonEmpty(result.Get("note_tweet.note_tweet_results.result.text").String(), legacy.Get("full_text").String()),
		CreatedAt:      parseTwitterTime(legacy.Get("created_at").String()),
		Likes:          int(legacy.Get("favorite_count").Int()),
		Retweets:       int(legacy.Get("retweet_count").Int()),
		Replies:        int(legacy.Get("reply_count").Int()),
		Quotes:         int(legacy.Get("quote_count").Int()),
		Bookmarks:      int(legacy.Get("bookmark_count").Int()),
		InReplyToID:    legacy.Get("in_reply_to_status_id_str").String(),
		QuotedID:       legacy.Get("quoted_status_id_str").String(),
		IsQuoted:       legacy.Get("is_quote_status").Bool(),
	}
	tw.IsReply = tw.InReplyToID != ""

	if views := result.Get("views.count"); views.Exists() {
		tw.Views, _ = strconv.Atoi(views.String())
	}

	if rt := legacy.Get("retweeted_status_result.result"); rt.Exists() {
		tw.IsRetweet = true
		tw.RetweetedID = firstNonEmpty(rt.Get("rest_id").String(), rt.Get("tweet.rest_id").String())
	}

	tw.Hashtags = stringsAt(legacy, "entities.hashtags.#.text")
	tw.URLs = stringsAt(legacy, "entities.urls.#.expanded_url")
	tw.Mentions = stringsAt(legacy, "entities.user_mentions.#.screen_name")
	tw.TokenMentions = extractTokenMentions(tw.Text)
	return tw, true
}

// mapList maps a list node from a ListWithSubscribe item.
func mapList(list gjson.Result) *ListRecord {
	rec := &ListRecord{
		ID:              list.Get("id").String(),
		IDStr:           list.Get("id_str").String(),
		Name:            list.Get("name").String(),
		Description:     list.Get("description").String(),
		MemberCount:     int(list.Get("member_count").Int()),
		SubscriberCount: int(list.Get("subscriber_count").Int()),
		CreatedAt:       parseListTime(list.Get("created_at")),
	}
	if rec.ID == "" {
		rec.ID = rec.IDStr
	}
	if owner, ok := mapUserResult(list.Get("user_results.result")); ok {
		rec.Owner = owner
	} else {
		rec.Owner = &Profile{}
	}
	return rec
}

func parseTwitterTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(twitterTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseListTime accepts epoch milliseconds (number or numeric string) or a legacy timestamp.
func parseListTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	case gjson.String:
		if ms, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return parseTwitterTime(v.Str)
	}
	return time.Time{}
}

func stringsAt(node gjson.Result, path string) []string {
	var out []string
	for _, v := range node.Get(path).Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func extractTokenMentions(text string) []string {
	matches := tokenMentionRe.FindAllStringSubmatch(strings.ToUpper(text), -1)
	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		if len(m) >= 2 && !seen[m[1]] {
			seen[m[1]] = true
			result = append(result, m[1])
		}
	}
	return result
}
