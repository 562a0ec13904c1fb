package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// WorkflowStage is one step of the checkpointed publish workflow.
type WorkflowStage string

const (
	StageVerify           WorkflowStage = "verify"
	StagePrepareMedia     WorkflowStage = "prepare_media"
	StagePublishPlatforms WorkflowStage = "publish_platforms"
	StageFinalize         WorkflowStage = "finalize"
	StageDone             WorkflowStage = "done"
)

var stageOrder = map[WorkflowStage]int{
	StageVerify:           0,
	StagePrepareMedia:     1,
	StagePublishPlatforms: 2,
	StageFinalize:         3,
	StageDone:             4,
}

// PlatformState is the per-platform sub-status within a checkpoint.
type PlatformState string

const (
	PlatformPending   PlatformState = "pending"
	PlatformSucceeded PlatformState = "succeeded"
	PlatformFailed    PlatformState = "failed"
)

// PlatformProgress records one platform's position in the workflow.
// MediaIDs carries upload references produced by the prepare_media stage so
// a resumed execution does not upload the same media twice.
type PlatformProgress struct {
	State    PlatformState `json:"state"`
	Error    string        `json:"error,omitempty"`
	MediaIDs []string      `json:"media_ids,omitempty"`
}

// Checkpoint is the resumable state of one in-flight publish execution,
// persisted on the task row so any process can resume it. The stage pointer
// only moves forward; platforms already succeeded or failed are never
// re-executed on resume.
type Checkpoint struct {
	Stage     WorkflowStage               `json:"stage,omitempty"`
	Platforms map[string]PlatformProgress `json:"platforms,omitempty"`
}

// NewCheckpoint starts a checkpoint at the verify stage with every target
// platform pending.
func NewCheckpoint(platforms []string) Checkpoint {
	cp := Checkpoint{
		Stage:     StageVerify,
		Platforms: make(map[string]PlatformProgress, len(platforms)),
	}
	for _, p := range platforms {
		cp.Platforms[p] = PlatformProgress{State: PlatformPending}
	}
	return cp
}

// Active reports whether an execution is in flight or completed, i.e. the
// checkpoint has been initialized.
func (c Checkpoint) Active() bool { return c.Stage != "" }

// Advance moves the stage pointer forward. Moving backward is a programming
// error and is ignored.
func (c *Checkpoint) Advance(to WorkflowStage) {
	if stageOrder[to] > stageOrder[c.Stage] {
		c.Stage = to
	}
}

// Pending returns the platforms still awaiting an attempt, in stable order.
func (c Checkpoint) Pending() []string {
	var out []string
	for name, p := range c.Platforms {
		if p.State == PlatformPending {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// MarkSucceeded records a completed platform.
func (c *Checkpoint) MarkSucceeded(platform string) {
	c.Platforms[platform] = PlatformProgress{State: PlatformSucceeded}
}

// MarkFailed records a failed platform with its error detail.
func (c *Checkpoint) MarkFailed(platform, detail string) {
	c.Platforms[platform] = PlatformProgress{State: PlatformFailed, Error: detail}
}

// SetMediaIDs records prepared media uploads for a still-pending platform.
func (c *Checkpoint) SetMediaIDs(platform string, ids []string) {
	p := c.Platforms[platform]
	p.MediaIDs = ids
	c.Platforms[platform] = p
}

func (c *Checkpoint) Scan(value interface{}) error {
	if value == nil {
		*c = Checkpoint{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into Checkpoint", value)
	}
}

func (c Checkpoint) Value() (driver.Value, error) {
	if !c.Active() {
		return nil, nil
	}
	return json.Marshal(c)
}
