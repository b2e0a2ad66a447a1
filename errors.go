package twitter

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotLoggedIn is returned by operations that need an authenticated account
	// when the pool holds none.
	ErrNotLoggedIn = errors.New("not logged in: operation requires an authenticated account")

	// ErrUnknownOperation is returned for an operation name missing from Endpoints.
	ErrUnknownOperation = errors.New("unknown operation")
)

// APIError is a GraphQL error returned in a response body that carries no data.
type APIError struct {
	Operation string
	Code      int
	Message   string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: twitter API error %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: twitter API error: %s", e.Operation, e.Message)
}

// responseError returns an *APIError when body has errors[] and no usable data.
func responseError(operation string, body []byte) error {
	first := gjson.GetBytes(body, "errors.0")
	if !first.Exists() || hasResponseData(body) {
		return nil
	}
	return &APIError{
		Operation: operation,
		Code:      int(first.Get("code").Int()),
		Message:   first.Get("message").String(),
	}
}

// errorClass categorizes Twitter API error responses for targeted handling.
type errorClass int

const (
	errNone          errorClass = iota
	errBanned                   // 88: rate limit abuse
	errSuspended                // 64: account suspended
	errLocked                   // 326: account locked (captcha needed)
	errCSRF                     // 353: csrf token mismatch
	errAuthExpired              // 32: could not authenticate
	errBlocked                  // 161: blocked from performing action
	errNotAuthorized            // 179, 219: not authorized
	errInternal                 // 131: Twitter internal error
)

var errorCodes = map[int64]errorClass{
	88:  errBanned,
	64:  errSuspended,
	326: errLocked,
	353: errCSRF,
	32:  errAuthExpired,
	161: errBlocked,
	179: errNotAuthorized,
	219: errNotAuthorized,
	131: errInternal,
}

// classifyError returns the class of the first known code in the body's errors[].
func classifyError(body []byte) errorClass {
	for _, code := range gjson.GetBytes(body, "errors.#.code").Array() {
		if class, ok := errorCodes[code.Int()]; ok {
			return class
		}
	}
	return errNone
}

// hasResponseData reports whether the body carries a non-null "data" object.
func hasResponseData(body []byte) bool {
	data := gjson.GetBytes(body, "data")
	return data.Exists() && data.Type != gjson.Null
}

// parseRateLimitReset parses the X-Rate-Limit-Reset unix timestamp header.
// Falls back to 15 minutes from now if missing or invalid.
func parseRateLimitReset(v string) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ts, 0)
	}
	return time.Now().Add(15 * time.Minute)
}
