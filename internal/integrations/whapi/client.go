// Package whapi sends text messages through the WhatsApp HTTP gateway.
package whapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lead-qualifier/internal/domain"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	ChatID    string `json:"chat_id"`
	ChatIDAlt string `json:"chatId"`
	MessageID string `json:"message_id"`
	Message   struct {
		ID     string `json:"id"`
		ChatID string `json:"chat_id"`
	} `json:"message"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends messages through the gateway. The bearer token is read from
// SSM on first use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps Getter, baseURL, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("whapi: paramstore getter must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("whapi: base URL must not be empty")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("whapi: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken returns the cached token, reading it from SSM when none has
// been read yet. Failures are not cached.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/whapi-token")
	if err != nil {
		return "", fmt.Errorf("whapi: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("whapi: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("whapi: API token is empty")
	}
	c.token = tp.Token
	return c.token, nil
}

// Send posts a text message. The returned conversation id falls back to the
// one on msg when the gateway does not echo it.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (domain.SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return domain.SendResult{}, errors.New("whapi: recipient must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.SendResult{}, err
	}

	body, err := json.Marshal(sendRequest{To: msg.To, Body: msg.Body})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("whapi: marshal request: %w", err)
	}
	url := c.baseURL + "/messages/text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("whapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("whapi: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.SendResult{}, fmt.Errorf("whapi: request failed: %w", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		})
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("whapi: read response body: %w", err)
	}
	var payload sendResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return domain.SendResult{}, fmt.Errorf("whapi: decode response: %w", err)
		}
	}

	return domain.SendResult{
		ConversationID: firstNonEmpty(payload.ChatID, payload.ChatIDAlt, payload.Message.ChatID, msg.ConversationID),
		MessageID:      firstNonEmpty(payload.MessageID, payload.Message.ID),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
