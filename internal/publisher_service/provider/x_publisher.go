package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
)

// XAccount holds OAuth 1.0a user-context credentials for one X account.
type XAccount struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	Handle       string // used for post URLs; "i" works for any account
}

// XPublisher posts text to X through API v2.
type XPublisher struct {
	logger         *slog.Logger
	httpClient     *http.Client
	baseURL        string
	accounts       map[string]XAccount
	defaultAccount string
}

func NewXPublisher(logger *slog.Logger, baseURL string, accounts map[string]XAccount, defaultAccount string, httpClient *http.Client) *XPublisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.twitter.com"
	}
	return &XPublisher{
		logger:         logger.With("provider", "x"),
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		accounts:       accounts,
		defaultAccount: defaultAccount,
	}
}

type xCreateTweetRequest struct {
	Text string `json:"text"`
}

type xCreateTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type xErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e xErrorResponse) reason() string {
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return e.Errors[0].Message
	}
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

func (p *XPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	accountKey := req.Account
	if accountKey == "" {
		accountKey = p.defaultAccount
	}
	account, ok := p.accounts[accountKey]
	if !ok || account.APIKey == "" || account.AccessToken == "" {
		return nil, fmt.Errorf("no credentials configured for X account %q", accountKey)
	}
	if len(req.Media) > 0 {
		p.logger.WarnContext(ctx, "X media upload is not supported, posting text only", "post_id", req.PostID, "media", len(req.Media))
	}

	body, err := json.Marshal(xCreateTweetRequest{Text: req.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal X request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create X request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	cfg := oauth1.NewConfig(account.APIKey, account.APISecret)
	token := oauth1.NewToken(account.AccessToken, account.AccessSecret)
	client := cfg.Client(context.WithValue(ctx, oauth1.HTTPClient, p.httpClient), token)

	p.logger.DebugContext(ctx, "Sending post to X", "post_id", req.PostID, "account", accountKey)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to X: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read X response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr xErrorResponse
		reason := fmt.Sprintf("X API error: status %d", resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.reason() != "" {
			reason = fmt.Sprintf("X API error: status %d, message: %s", resp.StatusCode, apiErr.reason())
		}
		p.logger.WarnContext(ctx, "X publish failed", "post_id", req.PostID, "status_code", resp.StatusCode, "reason", reason)
		return nil, fmt.Errorf("%s", reason)
	}

	var created xCreateTweetResponse
	if err := json.Unmarshal(respBody, &created); err != nil || created.Data.ID == "" {
		return nil, fmt.Errorf("X API returned status %d without a post id", resp.StatusCode)
	}

	handle := account.Handle
	if handle == "" {
		handle = "i"
	}
	p.logger.InfoContext(ctx, "Published to X", "post_id", req.PostID, "remote_id", created.Data.ID, "account", accountKey)
	return &PublishResult{
		RemoteID: created.Data.ID,
		URL:      fmt.Sprintf("https://x.com/%s/status/%s", handle, created.Data.ID),
	}, nil
}

func (p *XPublisher) GetName() string {
	return "x"
}
