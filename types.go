package twitter

import (
	"strings"
	"time"
)

// Profile represents a Twitter/X account profile.
type Profile struct {
	ID             string
	Username       string
	Name           string
	Bio            string
	Location       string
	Website        string
	AvatarURL      string
	BannerURL      string
	Followers      int
	Following      int
	TweetCount     int
	ListedCount    int
	LikesCount     int
	MediaCount     int
	Joined         time.Time
	IsPrivate      bool
	IsVerified     bool
	IsBlueVerified bool
	HasAvatar      bool
	HasBio         bool
}

// Tweet represents a single tweet.
type Tweet struct {
	ID             string
	ConversationID string
	AuthorID       string
	Username       string
	Name           string
	Text           string
	CreatedAt      time.Time
	Views          int
	Likes          int
	Retweets       int
	Replies        int
	Quotes         int
	Bookmarks      int
	Hashtags       []string
	URLs           []string
	Mentions       []string
	TokenMentions  []string // extracted $TICKER patterns, e.g. ["BTC", "ETH"]
	IsRetweet      bool
	IsReply        bool
	IsQuoted       bool
	InReplyToID    string
	QuotedID       string
	RetweetedID    string
}

// ListRecord represents a Twitter list as returned by list search.
type ListRecord struct {
	ID              string
	IDStr           string
	Name            string
	Description     string
	MemberCount     int
	SubscriberCount int
	CreatedAt       time.Time
	Owner           *Profile
}

// SearchMode selects the search product tab.
type SearchMode int

const (
	SearchTop SearchMode = iota
	SearchLatest
	SearchPhotos
	SearchVideos
	SearchPeople
	SearchLists
)

// product returns the GraphQL "product" variable for the mode.
func (m SearchMode) product() string {
	switch m {
	case SearchLatest:
		return "Latest"
	case SearchPhotos:
		return "Photos"
	case SearchVideos:
		return "Videos"
	case SearchPeople:
		return "People"
	case SearchLists:
		return "Lists"
	default:
		return "Top"
	}
}

// carriesTweets reports whether the tab lists tweets rather than profiles or lists.
func (m SearchMode) carriesTweets() bool {
	return m != SearchPeople && m != SearchLists
}

// ParseSearchMode maps a case-insensitive tab name to a SearchMode. Unknown names map to SearchTop.
func ParseSearchMode(s string) SearchMode {
	for m := SearchTop; m <= SearchLists; m++ {
		if strings.EqualFold(m.product(), s) {
			return m
		}
	}
	return SearchTop
}
