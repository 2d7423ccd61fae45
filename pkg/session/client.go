package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client sends API requests on behalf of a Manager. It attaches the current access token
// and ends the session on any 401 response. Requests are never retried.
type Client struct {
	session *Manager
}

func NewClient(session *Manager) *Client {
	return &Client{session: session}
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// ListResources fetches the caller's tenant-scoped rows for resource.
func (c *Client) ListResources(ctx context.Context, resource string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := c.Get(ctx, "/api/"+url.PathEscape(resource), &rows); err != nil {
		return nil, fmt.Errorf("client.ListResources: %w", err)
	}
	return rows, nil
}

func (c *Client) GetResource(ctx context.Context, resource, id string) (map[string]any, error) {
	var row map[string]any
	if err := c.Get(ctx, "/api/"+url.PathEscape(resource)+"/"+url.PathEscape(id), &row); err != nil {
		return nil, fmt.Errorf("client.GetResource: %w", err)
	}
	return row, nil
}

func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	token, ok := c.session.AccessToken()
	if ok && IsTokenExpired(token, c.session.now()) {
		c.session.ForceLogout("token_expired")
		return ErrTokenExpired
	}

	err := doRequest(ctx, c.session.httpClient, method, c.session.baseURL+path, token, body, out)
	if IsStatus(err, http.StatusUnauthorized) {
		c.session.ForceLogout("unauthorized")
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}

func doRequest(ctx context.Context, hc *http.Client, method, rawURL, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
