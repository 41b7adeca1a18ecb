// Package telegram is a minimal Telegram Bot API transport.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/interview"
)

const (
	// DefaultAPIURL is the public Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"
	contentType   = "application/json"
	maxRetryAfter = 30 * time.Second
)

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls the Bot API over HTTPS.
type Client struct {
	token      string
	logger     *slog.Logger
	HTTPClient *http.Client
	APIURL     string
}

// NewClient creates a client for the bot token. An empty apiURL uses DefaultAPIURL.
func NewClient(token, apiURL string, logger *slog.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:  token,
		logger: logger,
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{
			// Long polls hold the request open for the poll timeout.
			Timeout: 90 * time.Second,
		},
	}
}

// SendMessage delivers text to a chat. A rate limit reply is retried once
// after the advertised delay.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts interview.SendOptions) error {
	req := sendMessageRequest{ChatID: chatID, Text: text, ParseMode: opts.ParseMode}
	if opts.DisableWebPagePreview {
		req.LinkPreviewOptions = &linkPreviewOptions{IsDisabled: true}
	}

	err := c.call(ctx, "sendMessage", req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 && apiErr.RetryAfter <= maxRetryAfter {
		c.logger.Warn("telegram rate limited, retrying", "chat_id", chatID, "retry_after", apiErr.RetryAfter)
		timer := time.NewTimer(apiErr.RetryAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("send message: %w", ctx.Err())
		case <-timer.C:
		}
		err = c.call(ctx, "sendMessage", req, nil)
	}
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// DeleteWebhook removes a configured webhook so that polling works.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if err := c.call(ctx, "deleteWebhook", struct{}{}, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.APIURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, stripURL(err))
	}
	req.Header.Set("Content-Type", contentType)

	c.logger.Debug("telegram request", "method", method)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, stripURL(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode %s response (status %s): %w", method, resp.Status, err)
	}
	if !envelope.OK {
		apiErr := &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, target); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// stripURL drops the request URL from err since it carries the bot token.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
