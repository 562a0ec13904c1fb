package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
)

func testConnection(baseURL string) *models.Connection {
	return &models.Connection{
		Owner:       "owner-1",
		Platform:    "mastodon",
		BaseURL:     baseURL,
		AccessToken: "secret-token",
		Enabled:     true,
	}
}

func TestPublishPostsStatus(t *testing.T) {
	var gotAuth, gotIdempotency string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/statuses", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		fmt.Fprint(w, `{"id":"109501","url":"https://mastodon.test/@me/109501"}`)
	}))
	defer server.Close()

	p := New(zap.NewNop())
	content := &publisher.Content{
		TaskID: "task-42",
		Title:  "Release day",
		Body:   "v2 is out",
		Tags:   []string{"release", "go lang"},
	}

	result, err := p.Publish(context.Background(), content, testConnection(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, result.Status)
	assert.Equal(t, "109501", result.ExternalID)
	assert.Equal(t, "https://mastodon.test/@me/109501", result.URL)
	assert.NotNil(t, result.PublishedAt)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "task-42", gotIdempotency)
	assert.Equal(t, "Release day\n\nv2 is out #release #golang", gotPayload["status"])
	assert.Nil(t, gotPayload["media_ids"], "no attachments means no media_ids field")
}

func TestPublishAttachesPreparedMedia(t *testing.T) {
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		fmt.Fprint(w, `{"id":"1"}`)
	}))
	defer server.Close()

	p := New(zap.NewNop())
	content := &publisher.Content{
		TaskID:         "task-42",
		Body:           "with media",
		MediaUploadIDs: []string{"m-1", "m-2"},
	}

	_, err := p.Publish(context.Background(), content, testConnection(server.URL))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"m-1", "m-2"}, gotPayload["media_ids"])
}

func TestPublishSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := New(zap.NewNop())
	_, err := p.Publish(context.Background(), &publisher.Content{TaskID: "t", Body: "x"}, testConnection(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestPrepareMediaUploadsInContentOrder(t *testing.T) {
	// Serves both the media sources and the upload endpoint.
	uploads := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v2/media":
			require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			uploads++
			assert.Equal(t, fmt.Sprintf("clip-%d.png", uploads), header.Filename)
			fmt.Fprintf(w, `{"id":"media-%d"}`, uploads)
		default:
			fmt.Fprint(w, "binary-bytes")
		}
	}))
	defer server.Close()

	p := New(zap.NewNop())
	content := &publisher.Content{
		TaskID: "task-42",
		Body:   "x",
		Media: []publisher.MediaRef{
			{URL: server.URL + "/clip-1.png", Type: "image"},
			{URL: server.URL + "/clip-2.png", Type: "image", Description: "second"},
		},
	}

	ids, err := p.PrepareMedia(context.Background(), content, testConnection(server.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"media-1", "media-2"}, ids)
}

func TestPrepareMediaFailsWhenSourceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	p := New(zap.NewNop())
	content := &publisher.Content{
		TaskID: "task-42",
		Media:  []publisher.MediaRef{{URL: server.URL + "/gone.png", Type: "image"}},
	}

	_, err := p.PrepareMedia(context.Background(), content, testConnection(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
