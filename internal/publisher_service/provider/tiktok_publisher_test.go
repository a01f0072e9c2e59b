package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/logger"
)

func TestTikTokPublisher_Publish_PullFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/post/publish/video/init/", r.URL.Path)
		assert.Equal(t, "Bearer tt-token", r.Header.Get("Authorization"))

		var req tiktokInitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "PULL_FROM_URL", req.SourceInfo.Source)
		assert.Equal(t, "https://cdn.example.com/clip.mp4", req.SourceInfo.VideoURL)
		assert.Equal(t, "SELF_ONLY", req.PostInfo.PrivacyLevel)
		assert.Equal(t, "caption", req.PostInfo.Title)

		w.Write([]byte(`{"data":{"publish_id":"v_pub_1"},"error":{"code":"ok","message":""}}`))
	}))
	defer server.Close()

	p := NewTikTokPublisher(logger.Discard(), server.URL, "tt-token", "", "", server.Client())
	res, err := p.Publish(context.Background(), PublishRequest{
		PostID: "p1",
		Text:   "caption",
		Media: []core_domain.MediaRef{
			{Ref: "https://cdn.example.com/cover.png", Type: core_domain.MediaImage},
			{Ref: "https://cdn.example.com/clip.mp4", Type: core_domain.MediaVideo},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "v_pub_1", res.RemoteID)
}

func TestTikTokPublisher_Publish_FileUpload(t *testing.T) {
	mediaDir := t.TempDir()
	video := []byte("fake-mp4-bytes")
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "clip.mp4"), video, 0o644))

	var uploaded []byte
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/post/publish/video/init/":
			var req tiktokInitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "FILE_UPLOAD", req.SourceInfo.Source)
			assert.Equal(t, int64(len(video)), req.SourceInfo.VideoSize)
			assert.Equal(t, 1, req.SourceInfo.TotalChunkCount)
			json.NewEncoder(w).Encode(map[string]any{
				"data":  map[string]string{"publish_id": "v_pub_2", "upload_url": server.URL + "/upload"},
				"error": map[string]string{"code": "ok"},
			})
		case "/upload":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "bytes 0-13/14", r.Header.Get("Content-Range"))
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := NewTikTokPublisher(logger.Discard(), server.URL, "tt-token", "PUBLIC_TO_EVERYONE", mediaDir, server.Client())
	res, err := p.Publish(context.Background(), PublishRequest{
		PostID: "p1",
		Media:  []core_domain.MediaRef{{Ref: "clip.mp4", Type: core_domain.MediaVideo}},
	})
	require.NoError(t, err)
	assert.Equal(t, "v_pub_2", res.RemoteID)
	assert.Equal(t, video, uploaded)
}

func TestTikTokPublisher_Publish_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"data":{},"error":{"code":"access_token_invalid","message":"The access token is invalid or not found in the request."}}`))
	}))
	defer server.Close()
	p := NewTikTokPublisher(logger.Discard(), server.URL, "tt-token", "", t.TempDir(), server.Client())

	_, err := p.Publish(context.Background(), PublishRequest{PostID: "p1", Media: []core_domain.MediaRef{{Ref: "https://cdn.example.com/a.png", Type: core_domain.MediaImage}}})
	assert.ErrorContains(t, err, "requires a video")

	_, err = p.Publish(context.Background(), PublishRequest{PostID: "p1", Media: []core_domain.MediaRef{{Ref: "missing.mp4", Type: core_domain.MediaVideo}}})
	assert.ErrorContains(t, err, "failed to read video")

	_, err = p.Publish(context.Background(), PublishRequest{PostID: "p1", Media: []core_domain.MediaRef{{Ref: "https://cdn.example.com/a.mp4", Type: core_domain.MediaVideo}}})
	assert.ErrorContains(t, err, "access_token_invalid")
}
