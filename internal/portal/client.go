// Package portal speaks the Stalker/MAC portal JSON protocol for exactly
// one (portal_url, mac) pair, grounded on the duck-typed JSON client pattern
// in the teacher's internal/indexer/player_api.go (resolveStreamBaseURL,
// fetchLiveStreams, stringNum/str/intNum helpers) but targeting a Stalker
// portal's server/load.php action set instead of Xtream's player_api.php.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snapetech/stalkerproxy/internal/httpclient"
	"github.com/snapetech/stalkerproxy/internal/portalerr"
	"github.com/snapetech/stalkerproxy/internal/safeurl"
)

// stbUserAgent is a known STB firmware string; Stalker portals gate
// behavior (and sometimes access) on recognizing it.
const stbUserAgent = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG200 stbapp ver: 2 rev: 250 Mobile Safari/533.3"

const stbXUserAgent = "Model: MAG250; Link: WiFi"

// Client talks to one portal on behalf of one MAC. Per spec §3, Portal
// Clients are short-lived: construct per call with the portal's configured
// proxy and timeout, and discard — tokens are never persisted.
type Client struct {
	BaseURL  string
	MAC      string
	Timezone string // e.g. "Europe/Amsterdam"; sent verbatim in the Cookie header
	PortalID string // for error taxonomy context only

	httpClient *http.Client
	token      string
}

// New builds a Client. proxyURL may be empty. timeout bounds each HTTP call
// (spec §5: portal call default 10s).
func New(portalID, baseURL, mac, timezone, proxyURL string, timeout time.Duration) (*Client, error) {
	if !safeurl.IsHTTPOrHTTPS(baseURL) {
		return nil, fmt.Errorf("portal: %s: base url %q must be http or https", portalID, baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := httpclient.Default()
	base.Timeout = timeout
	hc, err := httpclient.WithProxy(base, proxyURL)
	if err != nil {
		return nil, fmt.Errorf("portal: %s: %w", portalID, err)
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		MAC:        mac,
		Timezone:   timezone,
		PortalID:   portalID,
		httpClient: hc,
	}, nil
}

func (c *Client) loadPHPURL(query url.Values) string {
	query.Set("JsHttpRequest", "1-xml")
	return c.BaseURL + "/server/load.php?" + query.Encode()
}

func (c *Client) newRequest(ctx context.Context, query url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.loadPHPURL(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", stbUserAgent)
	req.Header.Set("X-User-Agent", stbXUserAgent)
	req.Header.Set("Referer", c.BaseURL+"/c/")
	req.Header.Set("Accept", "*/*")
	cookie := fmt.Sprintf("mac=%s; stb_lang=en; timezone=%s", c.MAC, c.Timezone)
	req.Header.Set("Cookie", cookie)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes one call against query with the spec's retry policy: 3
// attempts, 250ms/1s/4s backoff ±20% jitter, retrying only
// PortalUnreachable and PortalThrottled. result, if non-nil, receives the
// decoded "js" field of the portal's {"js": ...} envelope.
func (c *Client) do(ctx context.Context, action string, query url.Values, result interface{}) error {
	return withRetry(ctx, func(attempt int) (error, bool) {
		req, err := c.newRequest(ctx, query)
		if err != nil {
			return portalerr.New(portalerr.KindAuthFailed, c.PortalID, "build request: "+err.Error(), err), false
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return portalerr.New(portalerr.KindUnreachable, c.PortalID, action, err), true
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			return portalerr.New(portalerr.KindThrottled, c.PortalID, action, nil), true
		case resp.StatusCode >= 500:
			return portalerr.New(portalerr.KindUnreachable, c.PortalID, action, nil), true
		case resp.StatusCode >= 400:
			return portalerr.New(portalerr.KindAuthFailed, c.PortalID, fmt.Sprintf("%s: HTTP %d", action, resp.StatusCode), nil), false
		}

		if result == nil {
			return nil, false
		}
		var envelope struct {
			JS json.RawMessage `json:"js"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return portalerr.New(portalerr.KindAuthFailed, c.PortalID, action+": malformed response: "+err.Error(), err), false
		}
		if len(envelope.JS) == 0 {
			return portalerr.New(portalerr.KindAuthFailed, c.PortalID, action+": missing js field", nil), false
		}
		if err := json.Unmarshal(envelope.JS, result); err != nil {
			return portalerr.New(portalerr.KindAuthFailed, c.PortalID, action+": decode js: "+err.Error(), err), false
		}
		return nil, false
	})
}

// GetToken authenticates and returns the token. Not persisted by the
// caller; a fresh Client.GetToken call is made for each session.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	q := url.Values{"type": {"stb"}, "action": {"handshake"}, "token": {""}}
	if err := c.do(ctx, "handshake", q, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", portalerr.New(portalerr.KindAuthFailed, c.PortalID, "handshake: empty token", nil)
	}
	c.token = out.Token
	return out.Token, nil
}

// GetProfile fetches watchdog_timeout, playback_limit, and account_status,
// opportunistically invoked after GetToken to update the MAC record.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var raw map[string]interface{}
	q := url.Values{"type": {"stb"}, "action": {"get_profile"}}
	if err := c.do(ctx, "get_profile", q, &raw); err != nil {
		return Profile{}, err
	}
	return Profile{
		WatchdogTimeoutSeconds: intNum(raw["watchdog_timeout"]),
		PlaybackLimit:          intNum(raw["playback_limit"]),
		AccountStatus:          str(raw["status"]),
	}, nil
}

// GetExpiry is best-effort; a missing field yields ("", nil), not an error.
func (c *Client) GetExpiry(ctx context.Context) (string, error) {
	var raw map[string]interface{}
	q := url.Values{"type": {"account_info"}, "action": {"get_main_info"}}
	if err := c.do(ctx, "get_expiry", q, &raw); err != nil {
		return "", err
	}
	return str(raw["end_date"]), nil
}

// GetGenres fetches the portal's genre list.
func (c *Client) GetGenres(ctx context.Context) ([]Genre, error) {
	var raw []map[string]interface{}
	q := url.Values{"type": {"itv"}, "action": {"get_genres"}}
	if err := c.do(ctx, "get_genres", q, &raw); err != nil {
		return nil, err
	}
	out := make([]Genre, 0, len(raw))
	for _, r := range raw {
		out = append(out, Genre{
			GenreID: stringNum(r["id"]),
			Name:    str(r["title"]),
		})
	}
	return out, nil
}

// GetAllChannels paginates get_all_channels until the server stops
// returning new ids, deduplicating by channel_id within the response.
func (c *Client) GetAllChannels(ctx context.Context) ([]RawChannel, error) {
	seen := map[string]bool{}
	var out []RawChannel
	for page := 1; ; page++ {
		var raw struct {
			Data      []map[string]interface{} `json:"data"`
			TotalItems int                      `json:"total_items"`
		}
		q := url.Values{
			"type":   {"itv"},
			"action": {"get_all_channels"},
			"p":      {stringNum(float64(page))},
		}
		if err := c.do(ctx, "get_all_channels", q, &raw); err != nil {
			return nil, err
		}
		newCount := 0
		for _, r := range raw.Data {
			id := stringNum(r["id"])
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			newCount++
			out = append(out, RawChannel{
				ChannelID: id,
				Name:      str(r["name"]),
				Number:    stringNum(r["number"]),
				Genre:     str(r["tv_genre"]),
				GenreID:   stringNum(r["tv_genre_id"]),
				Logo:      str(r["logo"]),
				Cmd:       str(r["cmd"]),
			})
		}
		if newCount == 0 || len(raw.Data) == 0 {
			break
		}
	}
	return out, nil
}

// GetLink resolves channelID to a playable stream URL. Returns
// PortalNoLink if the portal's cmd for this channel is a sentinel
// null/empty value.
func (c *Client) GetLink(ctx context.Context, channelID, cmd string) (string, error) {
	var raw struct {
		Cmd string `json:"cmd"`
	}
	q := url.Values{
		"type":   {"itv"},
		"action": {"create_link"},
		"cmd":    {cmd},
	}
	if err := c.do(ctx, "create_link", q, &raw); err != nil {
		return "", err
	}
	link := extractStreamURL(raw.Cmd)
	if link == "" {
		return "", portalerr.New(portalerr.KindNoLink, c.PortalID, "channel "+channelID, nil)
	}
	return link, nil
}

// extractStreamURL pulls the URL out of a Stalker "cmd" field, which is
// typically "ffmpeg http://host/stream.m3u8" or the bare URL.
func extractStreamURL(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}
	if idx := strings.Index(cmd, "http"); idx >= 0 {
		return cmd[idx:]
	}
	return ""
}

// GetEPG fetches raw EPG data for channelIDs, used by E for portal-typed
// EPG sources.
func (c *Client) GetEPG(ctx context.Context, channelIDs []string) (json.RawMessage, error) {
	var raw json.RawMessage
	q := url.Values{
		"type":   {"itv"},
		"action": {"get_epg_info"},
		"period": {"1"},
	}
	if len(channelIDs) > 0 {
		q.Set("ch_id", strings.Join(channelIDs, ","))
	}
	if err := c.do(ctx, "get_epg_info", q, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
