package twitter

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// ct0MaxAge is the maximum age of a ct0 token before proactive rotation.
const ct0MaxAge = 4 * time.Hour

// GenerateCT0 returns a random 32-byte hex CSRF token.
func GenerateCT0() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b) // never fails on supported platforms
	return hex.EncodeToString(b)
}

// extractCT0FromHeaders returns the ct0 cookie from a set-cookie header, if any.
func extractCT0FromHeaders(headers map[string]string) string {
	for part := range strings.SplitSeq(headers["set-cookie"], ";") {
		if val, found := strings.CutPrefix(strings.TrimSpace(part), "ct0="); found && val != "" {
			return val
		}
	}
	return ""
}
