package twitter

import (
	"fmt"
	"maps"
)

const (
	twitterBase   = "https://x.com/i/api/graphql"
	twitterAPIURL = "https://api.twitter.com"
)

// BearerToken is the Twitter web-app bearer token.
const BearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// Endpoint describes one GraphQL operation.
type Endpoint struct {
	ID       string
	Name     string
	Features map[string]any

	// MaxCount caps the "count" variable sent per page. Zero means no cap.
	MaxCount int

	// RequiresAuth marks operations that refuse guest tokens.
	RequiresAuth bool
}

// URL returns the full URL for this endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s/%s/%s", twitterBase, e.ID, e.Name)
}

// pageCount clamps a requested page size to the endpoint cap.
func (e Endpoint) pageCount(n int) int {
	if e.MaxCount > 0 && (n <= 0 || n > e.MaxCount) {
		return e.MaxCount
	}
	return n
}

// lookupEndpoint returns the endpoint for a named operation.
func lookupEndpoint(operation string) (Endpoint, error) {
	ep, ok := Endpoints[operation]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	return ep, nil
}

// EndpointURL returns the URL for a named operation, or an error if unknown.
func EndpointURL(operation string) (string, error) {
	ep, err := lookupEndpoint(operation)
	if err != nil {
		return "", err
	}
	return ep.URL(), nil
}

// REST endpoints used for follow/unfollow.
const (
	friendshipsCreateURL  = twitterAPIURL + "/1.1/friendships/create.json"
	friendshipsDestroyURL = "https://x.com/i/api/1.1/friendships/destroy.json"
)

// Endpoints maps operation names to their current GraphQL IDs and feature flags.
var Endpoints = map[string]Endpoint{
	"UserByScreenName": {ID: "1VOOyvKkiI3FMmkeDNxM9A", Name: "UserByScreenName", Features: gqlFeatures()},
	"UserByRestId":     {ID: "WJ7rCtezBVT6nk6VM5R8Bw", Name: "UserByRestId", Features: gqlFeatures()},
	"Followers":        {ID: "rRXFSG5vR6drKr5M37YOTw", Name: "Followers", Features: relationshipFeatures(), MaxCount: 50, RequiresAuth: true},
	"Following":        {ID: "iSicc7LrzWGBgDPL0tM_TQ", Name: "Following", Features: relationshipFeatures(), MaxCount: 50, RequiresAuth: true},
	"Retweeters":       {ID: "i-CI8t2pJD15euZJErEDrg", Name: "Retweeters", Features: gqlFeatures(), MaxCount: 20, RequiresAuth: true},
	"ListMembers":      {ID: "MIVGmoGBX0zdn-Vb1a3IsQ", Name: "ListMembers", Features: listFeatures(), MaxCount: 100, RequiresAuth: true},
	"ListLatestTweetsTimeline": {
		ID: "Wkhm1GmXHvIPYGx83--imA", Name: "ListLatestTweetsTimeline", Features: listFeatures(), MaxCount: 100,
	},
	"UserTweets":     {ID: "HeWHY26ItCfUmm1e6ITjeA", Name: "UserTweets", Features: gqlFeatures(), MaxCount: 40},
	"SearchTimeline": {ID: "AIdc203rPpK_k_2KWSdm7g", Name: "SearchTimeline", Features: gqlFeatures(), MaxCount: 50},
}

// withFeatures returns the canonical flags with overrides applied.
func withFeatures(overrides map[string]any) map[string]any {
	f := gqlFeatures()
	maps.Copy(f, overrides)
	return f
}

func relationshipFeatures() map[string]any {
	return withFeatures(map[string]any{
		"responsive_web_twitter_article_tweet_consumption_enabled":                false,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"longform_notetweets_inline_media_enabled":                                true,
		"responsive_web_media_download_video_enabled":                             false,
	})
}

func listFeatures() map[string]any {
	return withFeatures(map[string]any{
		"articles_preview_enabled":                             true,
		"payments_enabled":                                     false,
		"profile_label_improvements_pcf_label_in_post_enabled": true,
		"responsive_web_grok_analysis_button_from_backend":     true,
		"responsive_web_grok_analyze_post_followups_enabled":   true,
		"responsive_web_grok_image_annotation_enabled":         true,
		"responsive_web_grok_share_attachment_enabled":         true,
		"responsive_web_grok_show_grok_translated_post":        false,
		"responsive_web_jetfuel_frame":                         false,
		"rweb_video_screen_enabled":                            false,
		"subscriptions_verification_info_enabled":              true,
	})
}

// gqlFeatures returns the canonical Twitter GraphQL feature flags.
func gqlFeatures() map[string]any {
	return map[string]any{
		"articles_preview_enabled":                                                false,
		"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
		"communities_web_enable_tweet_community_results_fetch":                    true,
		"creator_subscriptions_quote_tweet_preview_enabled":                       false,
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
		"longform_notetweets_consumption_enabled":                                 true,
		"longform_notetweets_inline_media_enabled":                                true,
		"longform_notetweets_rich_text_read_enabled":                              true,
		"premium_content_api_read_enabled":                                        false,
		"profile_label_improvements_pcf_label_in_post_enabled":                    false,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"responsive_web_graphql_exclude_directive_enabled":                        true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"responsive_web_grok_analyze_button_fetch_trends_enabled":                 false,
		"responsive_web_grok_analyze_post_followups_enabled":                      false,
		"responsive_web_grok_image_annotation_enabled":                            false,
		"responsive_web_grok_share_attachment_enabled":                            false,
		"responsive_web_media_download_video_enabled":                             false,
		"responsive_web_twitter_article_tweet_consumption_enabled":                true,
		"rweb_tipjar_consumption_enabled":                                         true,
		"rweb_video_timestamps_enabled":                                           true,
		"standardized_nudges_misinfo":                                             true,
		"tweet_awards_web_tipping_enabled":                                        false,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"tweet_with_visibility_results_prefer_gql_media_interstitial_enabled":     false,
		"tweetypie_unmention_optimization_enabled":                                true,
		"verified_phone_label_enabled":                                            false,
		"view_counts_everywhere_api_enabled":                                      true,
	}
}
