// Package discovery resolves a room id to a set of candidate feed hosts
// and an auth token through the upstream REST endpoint, and classifies
// the failure modes (transient, rate-limited, API-level) the room
// driver needs to distinguish.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/feederr"
)

// Endpoint is the default base URL of the discovery REST call; a
// Client's base URL can be replaced with SetBaseURL.
const Endpoint = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"

// Host is one candidate feed endpoint.
type Host struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	WSPort   int    `json:"ws_port"`
	WSSPort  int    `json:"wss_port"`
}

// HostsInfo is the decoded discovery response: candidate hosts plus the
// per-room token that must be echoed back in the init handshake.
type HostsInfo struct {
	HostList []Host `json:"host_list"`
	Token    string `json:"token"`
}

type apiResponse struct {
	Code    int32           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client performs rate-limited discovery calls over HTTP.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// New builds a discovery client. requestsPerSecond and burst configure
// the outbound rate limiter guarding the upstream API; a limiter here
// is the client's own throttle, independent of any rate limiting the
// upstream signals back via RateLimited.
func New(httpClient *http.Client, requestsPerSecond float64, burst int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		baseURL:    Endpoint,
	}
}

// SetBaseURL overrides the discovery endpoint, for tests that substitute
// an httptest.Server for the upstream API.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Discover resolves roomid to a HostsInfo. Non-success API codes are
// classified: HTTP 412, code == 412 and code == -412 become
// feederr.RateLimited, anything else non-zero becomes feederr.APIFailure.
func (c *Client) Discover(ctx context.Context, room feed.RoomID) (HostsInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return HostsInfo{}, fmt.Errorf("discovery: rate limiter: %w", err)
	}

	reqURL := fmt.Sprintf("%s?id=%d&type=0", c.baseURL, int32(room))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return HostsInfo{}, fmt.Errorf("discovery: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HostsInfo{}, fmt.Errorf("discovery: request room=%d: %w", room, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return HostsInfo{}, &feederr.RateLimited{Source: feederr.RateLimitHTTP412}
	}
	if resp.StatusCode != http.StatusOK {
		return HostsInfo{}, fmt.Errorf("discovery: room=%d: unexpected status %s", room, resp.Status)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return HostsInfo{}, fmt.Errorf("discovery: decode response room=%d: %w", room, err)
	}

	switch parsed.Code {
	case 0:
		var info HostsInfo
		if err := json.Unmarshal(parsed.Data, &info); err != nil {
			return HostsInfo{}, fmt.Errorf("discovery: decode data room=%d: %w", room, err)
		}
		return info, nil
	case 412:
		return HostsInfo{}, &feederr.RateLimited{Source: feederr.RateLimitAPICode412}
	case -412:
		return HostsInfo{}, &feederr.RateLimited{Source: feederr.RateLimitAPICodeNeg412}
	default:
		return HostsInfo{}, &feederr.APIFailure{Code: parsed.Code, Message: parsed.Message}
	}
}

// WSSURL builds the WebSocket-over-TLS dial URL for host.
func (h Host) WSSURL() string {
	u := url.URL{Scheme: "wss", Host: fmt.Sprintf("%s:%d", h.Host, h.WSSPort), Path: "/sub"}
	return u.String()
}

// TCPAddr builds the plain-TCP dial address for host.
func (h Host) TCPAddr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
