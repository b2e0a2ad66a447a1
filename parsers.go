package twitter

import (
	"fmt"
	"strings"

	"github.com/anatolykoptev/go-twitter-timeline/timeline"
	"github.com/tidwall/gjson"
)

// Extractor turns one raw timeline response into the items it carries and the
// boundary cursors seen in it. Extraction never fails: a missing or mistyped node
// degrades to an empty page, a zero field, or a skipped entry.
type Extractor[T any] interface {
	Extract(body []byte) timeline.Page[T]
}

// Timeline roots, relative to the response body.
const (
	pathUserTimeline   = "data.user.result.timeline.timeline"
	pathUserTimelineV2 = "data.user.result.timeline_v2.timeline"
	pathRetweeters     = "data.retweeters_timeline.timeline"
	pathListMembers    = "data.list.members_timeline.timeline"
	pathListTweets     = "data.list.tweets_timeline.timeline"
	pathSearch         = "data.search_by_raw_query.search_timeline.timeline"
)

var (
	followExtractor      Extractor[*Profile]    = relationshipTimeline{paths: []string{pathUserTimeline}}
	retweeterExtractor   Extractor[*Profile]    = relationshipTimeline{paths: []string{pathRetweeters, pathUserTimeline}}
	memberExtractor      Extractor[*Profile]    = relationshipTimeline{paths: []string{pathListMembers}}
	listTweetExtractor   Extractor[*Tweet]      = listTimeline{paths: []string{pathListTweets}, prefixes: []string{"tweet", "list-conversation"}}
	userTweetExtractor   Extractor[*Tweet]      = listTimeline{paths: []string{pathUserTimeline, pathUserTimelineV2}, prefixes: []string{"tweet", "profile-conversation"}}
	searchTweetExtractor Extractor[*Tweet]      = searchTimeline[*Tweet]{entry: searchTweetEntry}
	searchUserExtractor  Extractor[*Profile]    = searchTimeline[*Profile]{entry: userEntry}
	searchListExtractor  Extractor[*ListRecord] = searchTimeline[*ListRecord]{entry: searchListEntry}
)

// instructionsAt returns the instruction list under the first path that has one.
func instructionsAt(body []byte, paths ...string) []gjson.Result {
	for _, p := range paths {
		if ins := gjson.GetBytes(body, p+".instructions").Array(); len(ins) > 0 {
			return ins
		}
	}
	return nil
}

// boundary collects the cursors of one page.
type boundary struct {
	next     string
	previous string
}

// record stores content's cursor when content is a cursor marker and reports whether it was one.
func (b *boundary) record(content gjson.Result) bool {
	switch content.Get("cursorType").String() {
	case "Bottom":
		b.next = content.Get("value").String()
		return true
	case "Top":
		b.previous = content.Get("value").String()
		return true
	}
	return false
}

func pageOf[T any](items []T, b boundary) timeline.Page[T] {
	return timeline.Page[T]{Items: items, Next: b.next, Previous: b.previous}
}

// walkEntryInstructions visits the entries of add/replace instructions. A cursor
// carried by the instruction's own entry is recorded and the rest of that
// instruction is skipped.
func walkEntryInstructions(instructions []gjson.Result, b *boundary, visit func(entry gjson.Result)) {
	for _, ins := range instructions {
		switch ins.Get("type").String() {
		case "TimelineAddEntries", "TimelineReplaceEntry":
		default:
			continue
		}
		if b.record(ins.Get("entry.content")) {
			continue
		}
		for _, entry := range ins.Get("entries").Array() {
			visit(entry)
		}
	}
}

// --- Relationship timelines: Followers, Following, Retweeters, ListMembers ---

type relationshipTimeline struct {
	paths []string
}

func (r relationshipTimeline) Extract(body []byte) timeline.Page[*Profile] {
	var b boundary
	var profiles []*Profile
	walkEntryInstructions(instructionsAt(body, r.paths...), &b, func(entry gjson.Result) {
		profiles = append(profiles, userEntry(entry.Get("content"), &b)...)
	})
	return pageOf(profiles, b)
}

// userEntry maps a user content entry; any other entry is inspected as a cursor marker.
func userEntry(content gjson.Result, b *boundary) []*Profile {
	item := content.Get("itemContent")
	if item.Get("userDisplayType").String() != "User" && item.Get("__typename").String() != "TimelineUser" {
		b.record(content)
		return nil
	}
	if p, ok := mapUserResult(item.Get("user_results.result")); ok {
		return []*Profile{p}
	}
	return nil
}

// --- List timelines: ListLatestTweetsTimeline, UserTweets ---

type listTimeline struct {
	paths    []string
	prefixes []string
}

func (l listTimeline) accepts(entryID string) bool {
	for _, p := range l.prefixes {
		if strings.HasPrefix(entryID, p) {
			return true
		}
	}
	return false
}

func (l listTimeline) Extract(body []byte) timeline.Page[*Tweet] {
	var b boundary
	var tweets []*Tweet
	for _, ins := range instructionsAt(body, l.paths...) {
		entries := ins.Get("entries").Array()
		if e := ins.Get("entry"); e.IsObject() {
			entries = append(entries, e)
		}
		for _, entry := range entries {
			content := entry.Get("content")
			if !content.Exists() || b.record(content) {
				continue
			}
			entryID := entry.Get("entryId").String()
			if !l.accepts(entryID) {
				continue
			}

			if item := content.Get("itemContent"); item.Exists() {
				tweets = appendTweet(tweets, item, strings.TrimPrefix(entryID, "tweet-"))
				continue
			}
			for _, sub := range content.Get("items").Array() {
				subID := sub.Get("entryId").String()
				item := sub.Get("item.itemContent")
				if subID == "" || !item.Exists() {
					continue
				}
				_, id, _ := strings.Cut(subID, "tweet-")
				tweets = appendTweet(tweets, item, id)
			}
		}
	}
	return pageOf(tweets, b)
}

func appendTweet(tweets []*Tweet, itemContent gjson.Result, fallbackID string) []*Tweet {
	if tw, ok := mapTweet(itemContent.Get("tweet_results.result"), fallbackID); ok {
		return append(tweets, tw)
	}
	return tweets
}

// --- Search timelines: tweets, people, lists ---

type searchTimeline[T any] struct {
	entry func(content gjson.Result, b *boundary) []T
}

func (s searchTimeline[T]) Extract(body []byte) timeline.Page[T] {
	var b boundary
	var items []T
	walkEntryInstructions(instructionsAt(body, pathSearch), &b, func(entry gjson.Result) {
		items = append(items, s.entry(entry.Get("content"), &b)...)
	})
	return pageOf(items, b)
}

func searchTweetEntry(content gjson.Result, b *boundary) []*Tweet {
	item := content.Get("itemContent")
	if item.Get("tweetDisplayType").String() != "Tweet" {
		b.record(content)
		return nil
	}
	if tw, ok := mapTweet(item.Get("tweet_results.result"), ""); ok {
		return []*Tweet{tw}
	}
	return nil
}

// searchListEntry maps every list in a module entry. The same entry may also
// carry a cursor marker.
func searchListEntry(content gjson.Result, b *boundary) []*ListRecord {
	var lists []*ListRecord
	for _, sub := range content.Get("items").Array() {
		item := sub.Get("item.itemContent")
		if item.Get("displayType").String() == "ListWithSubscribe" {
			lists = append(lists, mapList(item.Get("list")))
		}
	}
	b.record(content)
	return lists
}

// --- Single-object responses ---

// parseUser parses a single-user GraphQL response (UserByScreenName, UserByRestId).
func parseUser(operation string, body []byte) (*Profile, error) {
	if err := responseError(operation, body); err != nil {
		return nil, err
	}
	result := gjson.GetBytes(body, "data.user.result")
	if result.Get("__typename").String() == "UserUnavailable" {
		return nil, fmt.Errorf("user unavailable (suspended or restricted)")
	}
	p, ok := mapUserResult(result)
	if !ok || p.ID == "" {
		return nil, fmt.Errorf("empty user rest_id (typename=%s)", result.Get("__typename").String())
	}
	return p, nil
}
