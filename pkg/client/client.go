// Package client talks to a Plan & Learn Agent server.
package client

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
	"time"

	"github.com/hyperengineering/planlearn/internal/stream"
	"github.com/hyperengineering/planlearn/internal/types"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8000.
	BaseURL string
	// HTTPClient overrides the default client. A non-zero Timeout on it
	// also cuts off long chat streams.
	HTTPClient *http.Client
	// Timeout bounds non-streaming calls. Defaults to 30s.
	Timeout time.Duration
}

// Client is the Plan & Learn API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Handler receives a chat stream as it arrives. Either callback may be nil.
type Handler struct {
	OnText  func(text string)
	OnEvent func(ev stream.Event)
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		timeout: cfg.Timeout,
	}, nil
}

// Chat sends one chat turn and streams the reply to h. It returns the
// assistant text with status events removed. Errors returned before any
// output is an *APIError.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest, h Handler) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var (
		splitter stream.Splitter
		text     strings.Builder
		buf      = make([]byte, 4096)
	)
	emit := func(parts []stream.Part) {
		for _, p := range parts {
			if p.Event != nil {
				if h.OnEvent != nil {
					h.OnEvent(*p.Event)
				}
				continue
			}
			text.WriteString(p.Text)
			if h.OnText != nil {
				h.OnText(p.Text)
			}
		}
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			emit(splitter.Feed(string(buf[:n])))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return text.String(), fmt.Errorf("read chat stream: %w", readErr)
		}
	}
	if rest := splitter.Flush(); rest != "" {
		emit([]stream.Part{{Text: rest}})
	}
	return text.String(), nil
}

// Health reports server status.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Usage returns the user's free-tier usage.
func (c *Client) Usage(ctx context.Context, userID string) (*types.UsageResponse, error) {
	var out types.UsageResponse
	if err := c.call(ctx, http.MethodGet, "/api/usage/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestTasks stores completed tasks.
func (c *Client) IngestTasks(ctx context.Context, req types.IngestTasksRequest) (*types.IngestTasksResponse, error) {
	var out types.IngestTasksResponse
	if err := c.call(ctx, http.MethodPost, "/api/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists the user's most recent tasks. A limit of 0 uses the server
// default.
func (c *Client) Tasks(ctx context.Context, userID string, limit int) ([]types.Task, error) {
	path := "/api/tasks/" + url.PathEscape(userID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []types.Task
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Insights runs the plan & learn workflow for a question.
func (c *Client) Insights(ctx context.Context, req types.InsightsRequest) (*types.InsightsResponse, error) {
	var out types.InsightsResponse
	if err := c.call(ctx, http.MethodPost, "/api/insights", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts lists the user's alerts, newest first.
func (c *Client) Alerts(ctx context.Context, userID string) ([]types.Alert, error) {
	var out []types.Alert
	if err := c.call(ctx, http.MethodGet, "/api/alerts/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AcknowledgeAlert marks an alert read. It reports false when the alert
// does not exist.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	var out types.AcknowledgeResponse
	if err := c.call(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(alertID)+"/acknowledge", nil, &out); err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

// call performs a bounded JSON request and decodes the reply into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// send issues a request and turns non-2xx replies into an *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}
