package provider

import (
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

	"github.com/ondepub/autopost/internal/core_domain"
)

const instagramCaptionLimit = 2200

// InstagramPublisher publishes through the Instagram Graph API content publishing flow:
// create a media container, wait for video processing, then publish the container.
type InstagramPublisher struct {
	logger       *slog.Logger
	httpClient   *http.Client
	graphURL     string
	accountID    string
	accessToken  string
	pollInterval time.Duration
	pollAttempts int
}

func NewInstagramPublisher(logger *slog.Logger, graphURL, accountID, accessToken string, pollInterval time.Duration, pollAttempts int, httpClient *http.Client) *InstagramPublisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if pollAttempts <= 0 {
		pollAttempts = 60
	}
	return &InstagramPublisher{
		logger:       logger.With("provider", "instagram"),
		httpClient:   httpClient,
		graphURL:     strings.TrimRight(graphURL, "/"),
		accountID:    accountID,
		accessToken:  accessToken,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (p *InstagramPublisher) call(ctx context.Context, method, path string, params url.Values, out any) error {
	params.Set("access_token", p.accessToken)
	endpoint := p.graphURL + "/" + strings.TrimLeft(path, "/")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create Instagram request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to Instagram: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read Instagram response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("Instagram API error: status %d, message: %s", resp.StatusCode, ge.Error.Message)
		}
		return fmt.Errorf("Instagram API error: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode Instagram response: %w", err)
	}
	return nil
}

type graphIDResponse struct {
	ID string `json:"id"`
}

type containerStatusResponse struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type permalinkResponse struct {
	Permalink string `json:"permalink"`
}

func (p *InstagramPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if p.accountID == "" || p.accessToken == "" {
		return nil, errors.New("instagram account id and access token are not configured")
	}
	media, ok := pickInstagramMedia(req.Media)
	if !ok {
		return nil, errors.New("instagram requires an image or video attachment")
	}
	if !media.IsURL() {
		return nil, fmt.Errorf("instagram requires a public media URL, got %q", media.Ref)
	}

	params := url.Values{}
	params.Set("caption", truncateRunes(req.Text, instagramCaptionLimit))
	if media.Type == core_domain.MediaVideo {
		params.Set("media_type", "REELS")
		params.Set("video_url", media.Ref)
		params.Set("share_to_feed", "true")
	} else {
		params.Set("image_url", media.Ref)
	}

	var container graphIDResponse
	if err := p.call(ctx, http.MethodPost, p.accountID+"/media", params, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, errors.New("instagram did not return a container id")
	}
	p.logger.InfoContext(ctx, "Instagram media container created", "post_id", req.PostID, "container_id", container.ID, "media_type", media.Type)

	if media.Type == core_domain.MediaVideo {
		if err := p.waitForContainer(ctx, container.ID); err != nil {
			return nil, err
		}
	}

	publishParams := url.Values{}
	publishParams.Set("creation_id", container.ID)
	var published graphIDResponse
	if err := p.call(ctx, http.MethodPost, p.accountID+"/media_publish", publishParams, &published); err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, errors.New("instagram did not return a media id")
	}

	result := &PublishResult{RemoteID: published.ID}
	var link permalinkResponse
	linkParams := url.Values{}
	linkParams.Set("fields", "permalink")
	if err := p.call(ctx, http.MethodGet, published.ID, linkParams, &link); err != nil {
		p.logger.WarnContext(ctx, "Could not fetch Instagram permalink", "post_id", req.PostID, "media_id", published.ID, "error", err)
	} else {
		result.URL = link.Permalink
	}
	p.logger.InfoContext(ctx, "Published to Instagram", "post_id", req.PostID, "remote_id", published.ID)
	return result, nil
}

// waitForContainer polls the container until video processing finishes.
func (p *InstagramPublisher) waitForContainer(ctx context.Context, containerID string) error {
	for attempt := 1; attempt <= p.pollAttempts; attempt++ {
		params := url.Values{}
		params.Set("fields", "status_code,status")
		var status containerStatusResponse
		if err := p.call(ctx, http.MethodGet, containerID, params, &status); err != nil {
			return err
		}
		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			if status.Status != "" {
				return fmt.Errorf("instagram media processing %s: %s", strings.ToLower(status.StatusCode), status.Status)
			}
			return fmt.Errorf("instagram media processing %s", strings.ToLower(status.StatusCode))
		}
		p.logger.DebugContext(ctx, "Instagram container still processing", "container_id", containerID, "attempt", attempt, "status_code", status.StatusCode)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	return fmt.Errorf("instagram media processing did not finish after %d checks", p.pollAttempts)
}

func (p *InstagramPublisher) GetName() string {
	return "instagram"
}

// pickInstagramMedia prefers the first attachment, which decides image versus reel.
func pickInstagramMedia(media []core_domain.MediaRef) (core_domain.MediaRef, bool) {
	if len(media) == 0 {
		return core_domain.MediaRef{}, false
	}
	m := media[0]
	if m.Type == "" {
		m.Type = core_domain.InferMediaType(m.Ref)
	}
	return m, true
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
