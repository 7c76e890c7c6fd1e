package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the winlog API
type Client struct {
	config     Config
	httpClient *http.Client
	// streamClient has no overall timeout; streams end with their context
	streamClient *http.Client
	token        string
	baseURL      *url.URL
}

// NewClient creates a new winlog HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	// Validate required config
	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	// Parse base URL
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		baseURL:      baseURL,
	}, nil
}

// Authenticate logs in with the configured client ID and password and stores the token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}
	if c.config.Password != "" {
		authReq["password"] = c.config.Password
	}

	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return &authResp, nil
}

// ListChannels returns the channels the server can read
func (c *Client) ListChannels(ctx context.Context) (*ChannelsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp ChannelsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/channels", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return &resp, nil
}

// ReadEvents reads one bounded batch of records from channel
func (c *Client) ReadEvents(ctx context.Context, channel string, req ReadRequest) (*EventsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp EventsResponse
	err := c.doRequestWithQuery(ctx, http.MethodGet, eventsPath(channel), req.values(), nil, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the server
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil {
		var apiErr *APIError
		// An unhealthy server still answers with a health body
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && resp.Message != "" {
			return &resp, nil
		}
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// Admin Methods (require admin token)

// AdminListSessions returns the open read sessions (admin only)
func (c *Client) AdminListSessions(ctx context.Context) (*AdminSessionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminSessionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/sessions", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &resp, nil
}

// AdminGetStats returns service statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// eventsPath builds the events URL of channel. Native identifiers may
// contain slashes, which stay literal.
func eventsPath(channel string) *url.URL {
	segments := strings.Split(channel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return &url.URL{
		Path:    "/api/v1/channels/" + channel + "/events",
		RawPath: "/api/v1/channels/" + strings.Join(segments, "/") + "/events",
	}
}

func (r ReadRequest) values() url.Values {
	v := url.Values{}
	if r.Direction != "" {
		v.Set("direction", string(r.Direction))
	}
	if r.Query != "" {
		v.Set("query", r.Query)
	}
	if r.Limit > 0 {
		v.Set("limit", strconv.Itoa(r.Limit))
	}
	return v
}

// newRequest builds a request against the base URL
func (c *Client) newRequest(ctx context.Context, method string, ref *url.URL, queryParams url.Values, reqBody interface{}, requireAuth bool) (*http.Request, error) {
	u := *ref
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(&u)

	// Prepare request body
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method string, ref *url.URL, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	req, err := c.newRequest(ctx, method, ref, queryParams, reqBody, requireAuth)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Error bodies that match respBody (health) are still decoded
		if respBody != nil {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		return apiError(resp.StatusCode, bodyBytes)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, &url.URL{Path: path}, nil, reqBody, respBody, requireAuth)
}

func apiError(status int, body []byte) *APIError {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Message: errResp.Message}
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
