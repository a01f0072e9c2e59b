package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ondepub/autopost/internal/core_domain"
)

const tiktokTitleLimit = 2200

// TikTokPublisher uses the Content Posting API direct post flow.
// Remote video URLs are pulled by TikTok; local files are pushed as a single chunk.
type TikTokPublisher struct {
	logger       *slog.Logger
	httpClient   *http.Client
	apiURL       string
	accessToken  string
	privacyLevel string
	mediaDir     string
}

func NewTikTokPublisher(logger *slog.Logger, apiURL, accessToken, privacyLevel, mediaDir string, httpClient *http.Client) *TikTokPublisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if privacyLevel == "" {
		privacyLevel = "SELF_ONLY"
	}
	return &TikTokPublisher{
		logger:       logger.With("provider", "tiktok"),
		httpClient:   httpClient,
		apiURL:       strings.TrimRight(apiURL, "/"),
		accessToken:  accessToken,
		privacyLevel: privacyLevel,
		mediaDir:     mediaDir,
	}
}

type tiktokPostInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableComment bool   `json:"disable_comment"`
}

type tiktokSourceInfo struct {
	Source          string `json:"source"`
	VideoURL        string `json:"video_url,omitempty"`
	VideoSize       int64  `json:"video_size,omitempty"`
	ChunkSize       int64  `json:"chunk_size,omitempty"`
	TotalChunkCount int    `json:"total_chunk_count,omitempty"`
}

type tiktokInitRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *TikTokPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if p.accessToken == "" {
		return nil, errors.New("tiktok access token is not configured")
	}
	video, ok := core_domain.PostContent{Media: req.Media}.FirstMedia(core_domain.MediaVideo)
	if !ok {
		return nil, errors.New("tiktok requires a video attachment")
	}

	initReq := tiktokInitRequest{
		PostInfo: tiktokPostInfo{
			Title:        truncateRunes(req.Text, tiktokTitleLimit),
			PrivacyLevel: p.privacyLevel,
		},
	}

	var payload []byte
	if video.IsURL() {
		initReq.SourceInfo = tiktokSourceInfo{Source: "PULL_FROM_URL", VideoURL: video.Ref}
	} else {
		data, err := os.ReadFile(p.resolveLocal(video.Ref))
		if err != nil {
			return nil, fmt.Errorf("failed to read video %q: %w", video.Ref, err)
		}
		payload = data
		size := int64(len(data))
		initReq.SourceInfo = tiktokSourceInfo{Source: "FILE_UPLOAD", VideoSize: size, ChunkSize: size, TotalChunkCount: 1}
	}

	initResp, err := p.initPost(ctx, initReq)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		if initResp.Data.UploadURL == "" {
			return nil, errors.New("tiktok did not return an upload url")
		}
		if err := p.upload(ctx, initResp.Data.UploadURL, payload); err != nil {
			return nil, err
		}
	}

	p.logger.InfoContext(ctx, "Published to TikTok", "post_id", req.PostID, "publish_id", initResp.Data.PublishID, "source", initReq.SourceInfo.Source)
	return &PublishResult{RemoteID: initResp.Data.PublishID}, nil
}

func (p *TikTokPublisher) initPost(ctx context.Context, initReq tiktokInitRequest) (*tiktokInitResponse, error) {
	body, err := json.Marshal(initReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TikTok request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v2/post/publish/video/init/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create TikTok request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TikTok: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read TikTok response (status %d): %w", resp.StatusCode, err)
	}

	var out tiktokInitResponse
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (out.Error.Code != "" && out.Error.Code != "ok") {
		if decodeErr == nil && out.Error.Message != "" {
			return nil, fmt.Errorf("TikTok API error: status %d, code %s, message: %s", resp.StatusCode, out.Error.Code, out.Error.Message)
		}
		return nil, fmt.Errorf("TikTok API error: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode TikTok response: %w", decodeErr)
	}
	if out.Data.PublishID == "" {
		return nil, errors.New("tiktok did not return a publish id")
	}
	return &out, nil
}

func (p *TikTokPublisher) upload(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create TikTok upload request: %w", err)
	}
	size := len(data)
	req.ContentLength = int64(size)
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload video to TikTok: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("TikTok upload failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *TikTokPublisher) resolveLocal(ref string) string {
	if filepath.IsAbs(ref) || p.mediaDir == "" {
		return ref
	}
	return filepath.Join(p.mediaDir, ref)
}

func (p *TikTokPublisher) GetName() string {
	return "tiktok"
}
