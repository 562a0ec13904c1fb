package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
)

const platformName = "webhook"

// Publisher delivers content to a self-hosted endpoint as a signed JSON
// POST. The connection's access token doubles as the HMAC signing secret.
type Publisher struct {
	logger *zap.Logger
	client *http.Client
}

func New(logger *zap.Logger) *Publisher {
	return &Publisher{
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Publisher) Platform() string { return platformName }

func (p *Publisher) Publish(ctx context.Context, content *publisher.Content, conn *models.Connection) (*models.PublishResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"task_id": content.TaskID,
		"title":   content.Title,
		"body":    content.Body,
		"tags":    content.Tags,
		"media":   content.Media,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Syndicate-Delivery", content.TaskID)
	req.Header.Set("X-Syndicate-Signature", sign(payload, conn.AccessToken))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	var ack struct {
		ID string `json:"id"`
	}
	// An empty or non-JSON body is a valid acknowledgement.
	_ = json.NewDecoder(resp.Body).Decode(&ack)

	now := time.Now().UTC()
	return &models.PublishResult{
		Platform:    platformName,
		Status:      models.OutcomeSuccess,
		ExternalID:  ack.ID,
		PublishedAt: &now,
	}, nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
