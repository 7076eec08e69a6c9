// Package wagateway provides a client for an HTTP WhatsApp gateway. The
// gateway holds one authenticated WhatsApp Web session; callers must
// serialize sends against it.
package wagateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Session is the messaging-session contract: one authenticated channel to
// the messaging platform.
type Session interface {
	// Send dispatches one message to a destination (digits-only E.164 phone
	// or a handle, depending on the gateway).
	Send(ctx context.Context, destination, body string) (*SendResponse, error)
	// Ready reports whether the session is authenticated and connected.
	Ready(ctx context.Context) (bool, error)
}

// SendResponse is the parsed gateway send response.
type SendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type sessionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Option configures the gateway client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient creates a gateway client bound to one named session.
func NewClient(apiKey, baseURL, sessionID string, opts ...Option) Session {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   baseURL,
		sessionID: sessionID,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Send(ctx context.Context, destination, body string) (*SendResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"session": c.sessionID,
		"to":      destination,
		"text":    body,
	})
	if err != nil {
		return nil, eris.Wrap(err, "wagateway: marshal send payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/send-text", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "wagateway: create send request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "wagateway: send request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "wagateway: read send response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &SendError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var result SendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "wagateway: unmarshal send response")
	}
	return &result, nil
}

func (c *httpClient) Ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/sessions/%s", c.baseURL, c.sessionID), nil)
	if err != nil {
		return false, eris.Wrap(err, "wagateway: create status request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "wagateway: status request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "wagateway: read status response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, eris.Errorf("wagateway: status %d: %s", resp.StatusCode, string(body))
	}

	var status sessionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return false, eris.Wrap(err, "wagateway: unmarshal status response")
	}
	return status.Status == "connected", nil
}

// SendError reports a gateway rejection with the HTTP status and body, so
// the scheduler can distinguish transient failures from hard ones.
type SendError struct {
	Code int
	Body string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("wagateway: send failed with status %d: %s", e.Code, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *SendError) Transient() bool {
	switch e.Code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
