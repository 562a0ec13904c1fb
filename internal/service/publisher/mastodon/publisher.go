package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
)

const platformName = "mastodon"

// Publisher posts statuses to a Mastodon-compatible server. Media goes
// through the two-step upload: attachments are uploaded ahead of the status
// call and referenced by id.
type Publisher struct {
	logger *zap.Logger
	client *http.Client
}

func New(logger *zap.Logger) *Publisher {
	return &Publisher{
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Publisher) Platform() string { return platformName }

// PrepareMedia uploads every attachment and returns the server-side media
// ids in content order.
func (p *Publisher) PrepareMedia(ctx context.Context, content *publisher.Content, conn *models.Connection) ([]string, error) {
	ids := make([]string, 0, len(content.Media))
	for _, media := range content.Media {
		id, err := p.uploadMedia(ctx, conn, media)
		if err != nil {
			return nil, fmt.Errorf("failed to upload media %s: %w", media.URL, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Publisher) uploadMedia(ctx context.Context, conn *models.Connection, media publisher.MediaRef) (string, error) {
	data, err := p.fetchMedia(ctx, media.URL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName(media.URL))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if media.Description != "" {
		_ = writer.WriteField("description", media.Description)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.BaseURL+"/api/v2/media", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("media upload returned %d: %s", resp.StatusCode, string(raw))
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("failed to decode media response: %w", err)
	}

	p.logger.Info("Media uploaded",
		zap.String("platform", platformName),
		zap.String("media_id", uploaded.ID))

	return uploaded.ID, nil
}

func (p *Publisher) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media source returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *Publisher) Publish(ctx context.Context, content *publisher.Content, conn *models.Connection) (*models.PublishResult, error) {
	payload := map[string]interface{}{
		"status":     statusText(content),
		"visibility": "public",
	}
	if len(content.MediaUploadIDs) > 0 {
		payload["media_ids"] = content.MediaUploadIDs
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.BaseURL+"/api/v1/statuses", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	// Dedupe guard on the platform side for replayed attempts.
	req.Header.Set("Idempotency-Key", content.TaskID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status post returned %d: %s", resp.StatusCode, string(body))
	}

	var status struct {
		ID        string    `json:"id"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	publishedAt := status.CreatedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	return &models.PublishResult{
		Platform:    platformName,
		Status:      models.OutcomeSuccess,
		ExternalID:  status.ID,
		URL:         status.URL,
		PublishedAt: &publishedAt,
	}, nil
}

func statusText(content *publisher.Content) string {
	var b strings.Builder
	if content.Title != "" {
		b.WriteString(content.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(content.Body)
	for _, tag := range content.Tags {
		b.WriteString(" #")
		b.WriteString(strings.ReplaceAll(tag, " ", ""))
	}
	return b.String()
}

func fileName(url string) string {
	if idx := strings.LastIndex(url, "/"); idx >= 0 && idx < len(url)-1 {
		return url[idx+1:]
	}
	return "upload"
}
