package twitter

import (
	"maps"

	stealth "github.com/anatolykoptev/go-stealth"
)

// defaultUserAgent is the fallback User-Agent when no per-account UA is set.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// baseHeaders are sent on every request regardless of auth mode.
func baseHeaders(userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return map[string]string{
		"authorization":             "Bearer " + BearerToken,
		"x-twitter-active-user":     "yes",
		"x-twitter-client-language": "en",
		"content-type":              "application/json",
		"user-agent":                userAgent,
		"accept":                    "*/*",
		"accept-language":           "en-US,en;q=0.9",
		"referer":                   "https://x.com/",
		"origin":                    "https://x.com",
	}
}

// twitterHeaders returns the headers for a cookie-authenticated GraphQL request.
func twitterHeaders(authToken, ct0, userAgent string) map[string]string {
	h := baseHeaders(userAgent)
	h["x-csrf-token"] = ct0
	h["x-twitter-auth-type"] = "OAuth2Session"
	h["cookie"] = "auth_token=" + authToken + "; ct0=" + ct0
	h["accept-encoding"] = "gzip, deflate, br"
	h["sec-fetch-dest"] = "empty"
	h["sec-fetch-mode"] = "cors"
	h["sec-fetch-site"] = "same-origin"
	if ch := stealth.ClientHintsHeaders(h["user-agent"]); ch != nil {
		maps.Copy(h, ch)
	}
	return h
}

// guestHeaders returns headers for unauthenticated (guest token) requests.
func guestHeaders(guestToken string) map[string]string {
	h := baseHeaders("")
	h["x-guest-token"] = guestToken
	h["accept-encoding"] = "gzip, deflate, br"
	return h
}

// loginFlowHeaders returns headers required for the login flow API.
func loginFlowHeaders(guestToken, ct0 string) map[string]string {
	h := baseHeaders("")
	h["x-guest-token"] = guestToken
	if ct0 != "" {
		h["x-csrf-token"] = ct0
	}
	return h
}

// twitterHeaderOrder is the header order used for TLS fingerprint consistency.
var twitterHeaderOrder = []string{
	"authorization",
	"content-type",
	"x-csrf-token",
	"x-guest-token",
	"x-twitter-auth-type",
	"x-twitter-active-user",
	"x-twitter-client-language",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"cookie",
	"user-agent",
	"accept",
	"accept-language",
	"accept-encoding",
	"referer",
	"origin",
}
