package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// defaultTimeout is the default per-request socket timeout.
const defaultTimeout = 60 * time.Second

// HTTPClient is the production Client, talking JSON over HTTP(S) to the
// upstream's event-log endpoints.
type HTTPClient struct {
	baseURL     string
	scriptName  string
	scriptKey   string
	sessionUUID string
	httpClient  *http.Client
}

// HTTPClientOption configures an HTTPClient at construction time.
type HTTPClientOption func(*HTTPClient)

// WithProxy routes all requests through the given proxy URL.
func WithProxy(proxyURL string) HTTPClientOption {
	return func(c *HTTPClient) {
		if proxyURL == "" {
			return
		}
		if u, err := url.Parse(proxyURL); err == nil {
			if tr, ok := c.httpClient.Transport.(*http.Transport); ok {
				tr.Proxy = http.ProxyURL(u)
			}
		}
	}
}

// WithTimeout overrides the default 60s client timeout.
func WithTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithSessionUUID attaches a session identifier to every request.
func WithSessionUUID(id string) HTTPClientOption {
	return func(c *HTTPClient) { c.sessionUUID = id }
}

// NewHTTPClient builds an upstream client for baseURL, authenticating as
// scriptName/scriptKey.
func NewHTTPClient(baseURL, scriptName, scriptKey string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    baseURL,
		scriptName: scriptName,
		scriptKey:  scriptKey,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &http.Transport{},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventLogResponse struct {
	Events []wireEvent `json:"events"`
	MaxID  *int64      `json:"max_id"`
}

type wireEvent struct {
	ID            int64          `json:"id"`
	EventType     string         `json:"event_type"`
	AttributeName string         `json:"attribute_name"`
	CreatedAt     time.Time      `json:"created_at"`
	SessionUUID   string         `json:"session_uuid"`
	Meta          map[string]any `json:"meta"`
}

func (c *HTTPClient) authenticatedRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, ErrProtocol(fmt.Sprintf("invalid base url: %v", err))
	}
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ErrProtocol(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("X-Script-Name", c.scriptName)
	req.Header.Set("X-Script-Key", c.scriptKey)
	if c.sessionUUID != "" {
		req.Header.Set("X-Session-UUID", c.sessionUUID)
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrProtocol(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrResponse(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, req.URL))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrResponse(fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

// MaxEventID implements Client.
func (c *HTTPClient) MaxEventID(ctx context.Context) (int64, bool, error) {
	req, err := c.authenticatedRequest(ctx, "/api/events/max_id", nil)
	if err != nil {
		return 0, false, err
	}
	var body struct {
		MaxID *int64 `json:"max_id"`
	}
	if err := c.do(req, &body); err != nil {
		return 0, false, err
	}
	if body.MaxID == nil {
		return 0, false, nil
	}
	return *body.MaxID, true, nil
}

// EventsSince implements Client.
func (c *HTTPClient) EventsSince(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("after_id", strconv.FormatInt(afterID, 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := c.authenticatedRequest(ctx, "/api/events", q)
	if err != nil {
		return nil, err
	}
	var body eventLogResponse
	if err := c.do(req, &body); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(body.Events))
	for _, we := range body.Events {
		events = append(events, Event{
			ID:            we.ID,
			EventType:     we.EventType,
			AttributeName: we.AttributeName,
			CreatedAt:     we.CreatedAt,
			SessionUUID:   we.SessionUUID,
			Meta:          we.Meta,
		})
	}
	return events, nil
}
