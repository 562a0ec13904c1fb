package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/omarreid/syndicate/internal/models"
)

// Content is the fully formed payload handed to a platform adapter. The
// pipeline never edits the authored fields; MediaUploadIDs is the only slot
// filled in by the workflow between stages.
type Content struct {
	TaskID   string            `json:"task_id"`
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body"`
	Tags     []string          `json:"tags,omitempty"`
	Media    []MediaRef        `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// MediaUploadIDs holds platform-side upload references produced by
	// PrepareMedia, one per Media entry, for platforms with a two-step
	// upload.
	MediaUploadIDs []string `json:"-"`
}

// MediaRef points at one media resource attached to the content.
type MediaRef struct {
	URL         string `json:"url"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Publisher is the per-platform publish capability. Publish must be safe to
// call again for the same logical attempt when the prior attempt is known to
// have failed; the workflow never re-calls it on known success.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, content *Content, conn *models.Connection) (*models.PublishResult, error)
}

// MediaPreparer is implemented by publishers whose platform requires media
// uploaded ahead of the publish call. The returned upload ids are
// checkpointed so a resumed execution does not upload twice.
type MediaPreparer interface {
	PrepareMedia(ctx context.Context, content *Content, conn *models.Connection) ([]string, error)
}

// contentSchema validates the opaque task payload before any platform is
// touched.
const contentSchema = `{
	"type": "object",
	"required": ["body"],
	"properties": {
		"title": {"type": "string"},
		"body": {"type": "string", "minLength": 1},
		"tags": {"type": "array", "items": {"type": "string"}},
		"media": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["url", "type"],
				"properties": {
					"url": {"type": "string"},
					"type": {"type": "string", "enum": ["image", "video", "file"]},
					"description": {"type": "string"}
				}
			}
		},
		"metadata": {"type": "object"}
	}
}`

// CompileContentSchema returns the schema used by the workflow's verify
// stage.
func CompileContentSchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(contentSchema))
}

// ValidateContent checks a raw task payload against the content schema.
func ValidateContent(schema *gojsonschema.Schema, raw string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("content is not valid JSON: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("content failed validation: %s", result.Errors()[0].String())
	}
	return nil
}

// ContentFromTask decodes a task's payload into adapter-ready content.
func ContentFromTask(t *models.Task) (*Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(t.Content), &c); err != nil {
		return nil, fmt.Errorf("failed to decode task content: %w", err)
	}
	c.TaskID = t.ID
	if c.Title == "" {
		c.Title = t.Title
	}
	return &c, nil
}
