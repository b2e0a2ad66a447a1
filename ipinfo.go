package twitter

import (
	"context"
	"fmt"
	"log/slog"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/tidwall/gjson"
)

// ipInfoURL answers with the geolocation of the calling address.
var ipInfoURL = "http://ip-api.com/json"

// IPInfo describes the public address requests leave from.
type IPInfo struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	RegionName  string  `json:"region_name"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`

	// Account is the pool account whose transport was used, empty for the shared client.
	Account string `json:"account,omitempty"`
}

// IPInfo looks up the public address of the next active account's transport,
// so a per-account proxy shows up as the reported address. Without usable
// accounts the shared client is used.
func (c *Client) IPInfo(ctx context.Context) (*IPInfo, error) {
	bc := c.client
	var acc *Account
	if c.pool != nil {
		if a, err := c.pool.Next(func(a *Account) bool { return !a.proxyBackedOff() }); err == nil {
			acc = a
			bc = c.clientForAccount(a)
		}
	}
	if bc == nil {
		return nil, fmt.Errorf("ip info: no transport")
	}

	ua := defaultUserAgent
	if acc != nil && acc.UserAgent != "" {
		ua = acc.UserAgent
	}
	body, _, status, err := bc.DoWithHeaderOrderCtx(ctx, "GET", ipInfoURL, map[string]string{
		"accept":     "application/json",
		"user-agent": ua,
	}, nil, twitterHeaderOrder)
	if err != nil {
		if acc != nil && acc.Proxy != "" && isProxyError(err) {
			c.markProxyDown(acc)
		}
		return nil, fmt.Errorf("ip info: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("ip info: HTTP %d: %s", status, truncateBytes(body, 200))
	}

	info, err := parseIPInfo(body)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		info.Account = acc.Username
		slog.Debug("ip info", slog.String("user", acc.Username),
			slog.String("proxy", stealth.MaskProxy(acc.Proxy)), slog.String("ip", info.IP))
	}
	return info, nil
}

func parseIPInfo(body []byte) (*IPInfo, error) {
	r := gjson.ParseBytes(body)
	if !r.IsObject() {
		return nil, fmt.Errorf("ip info: malformed response: %s", truncateBytes(body, 200))
	}
	if status := r.Get("status").String(); status != "success" {
		return nil, fmt.Errorf("ip info: lookup %s: %s", status, r.Get("message").String())
	}
	return &IPInfo{
		IP:          r.Get("query").String(),
		Country:     r.Get("country").String(),
		CountryCode: r.Get("countryCode").String(),
		Region:      r.Get("region").String(),
		RegionName:  r.Get("regionName").String(),
		City:        r.Get("city").String(),
		Zip:         r.Get("zip").String(),
		Lat:         r.Get("lat").Float(),
		Lon:         r.Get("lon").Float(),
		Timezone:    r.Get("timezone").String(),
		ISP:         r.Get("isp").String(),
		Org:         r.Get("org").String(),
		AS:          r.Get("as").String(),
	}, nil
}
