package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
	"github.com/omarreid/syndicate/internal/store"
)

// Workflow drives the four-stage checkpointed publish machine:
// verify -> prepare_media -> publish_platforms -> finalize. Each stage
// persists the checkpoint before the next begins, so a crashed execution
// resumes at its last completed stage with completed platforms untouched.
type Workflow struct {
	tasks       store.TaskStore
	connections store.ConnectionStore
	registry    *publisher.Manager
	schema      *gojsonschema.Schema
	logger      *zap.Logger
}

func NewWorkflow(tasks store.TaskStore, connections store.ConnectionStore, registry *publisher.Manager, logger *zap.Logger) (*Workflow, error) {
	schema, err := publisher.CompileContentSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile content schema: %w", err)
	}
	return &Workflow{
		tasks:       tasks,
		connections: connections,
		registry:    registry,
		schema:      schema,
		logger:      logger,
	}, nil
}

// Run executes the workflow from the task's current checkpoint. Platform
// failures are recorded and never abort sibling platforms; only checkpoint
// persistence failures are returned as errors.
func (w *Workflow) Run(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.PublishResults == nil {
		task.PublishResults = models.ResultMap{}
	}

	if !task.Checkpoint.Active() {
		task.Checkpoint = models.NewCheckpoint(task.Platforms)
		if err := w.save(ctx, task); err != nil {
			return nil, err
		}
	}

	for {
		switch task.Checkpoint.Stage {
		case models.StageVerify:
			if err := w.verify(ctx, task); err != nil {
				return nil, err
			}
			task.Checkpoint.Advance(models.StagePrepareMedia)

		case models.StagePrepareMedia:
			if err := w.prepareMedia(ctx, task); err != nil {
				return nil, err
			}
			task.Checkpoint.Advance(models.StagePublishPlatforms)

		case models.StagePublishPlatforms:
			if err := w.publishPlatforms(ctx, task); err != nil {
				return nil, err
			}
			task.Checkpoint.Advance(models.StageFinalize)

		case models.StageFinalize:
			if err := w.finalize(task); err != nil {
				return nil, err
			}
			task.Checkpoint.Advance(models.StageDone)

		case models.StageDone:
			return task, nil
		}

		if err := w.save(ctx, task); err != nil {
			return nil, err
		}
	}
}

// verify re-confirms the content payload and platform connections. A
// platform without a usable connection is marked failed here; it does not
// block the others.
func (w *Workflow) verify(ctx context.Context, task *models.Task) error {
	if err := publisher.ValidateContent(w.schema, task.Content); err != nil {
		w.logger.Warn("Task content failed validation",
			zap.String("task_id", task.ID),
			zap.Error(err))
		for _, platform := range task.Checkpoint.Pending() {
			task.Checkpoint.MarkFailed(platform, err.Error())
		}
		return nil
	}

	for _, platform := range task.Checkpoint.Pending() {
		if _, err := w.registry.Get(platform); err != nil {
			task.Checkpoint.MarkFailed(platform, fmt.Sprintf("platform %s is not supported", platform))
			continue
		}
		conn, err := w.connections.GetConnection(ctx, task.Owner, platform)
		if err != nil {
			return err
		}
		if conn == nil || !conn.Enabled {
			w.logger.Warn("No connection for platform",
				zap.String("task_id", task.ID),
				zap.String("platform", platform))
			task.Checkpoint.MarkFailed(platform, fmt.Sprintf("no connection for platform %s", platform))
		}
	}
	return nil
}

// prepareMedia runs the ahead-of-publish upload for platforms that require
// it. Upload ids land in the checkpoint so a resume never uploads twice.
func (w *Workflow) prepareMedia(ctx context.Context, task *models.Task) error {
	content, err := publisher.ContentFromTask(task)
	if err != nil {
		for _, platform := range task.Checkpoint.Pending() {
			task.Checkpoint.MarkFailed(platform, err.Error())
		}
		return nil
	}
	if len(content.Media) == 0 {
		return nil
	}

	for _, platform := range task.Checkpoint.Pending() {
		pub, err := w.registry.Get(platform)
		if err != nil {
			continue
		}
		preparer, ok := pub.(publisher.MediaPreparer)
		if !ok {
			continue
		}
		if len(task.Checkpoint.Platforms[platform].MediaIDs) > 0 {
			continue
		}

		conn, err := w.connections.GetConnection(ctx, task.Owner, platform)
		if err != nil {
			return err
		}
		if conn == nil {
			task.Checkpoint.MarkFailed(platform, fmt.Sprintf("no connection for platform %s", platform))
			continue
		}

		ids, err := preparer.PrepareMedia(ctx, content, conn)
		if err != nil {
			w.logger.Warn("Media preparation failed",
				zap.String("task_id", task.ID),
				zap.String("platform", platform),
				zap.Error(err))
			task.Checkpoint.MarkFailed(platform, err.Error())
			continue
		}
		task.Checkpoint.SetMediaIDs(platform, ids)
	}
	return nil
}

type publishOutcome struct {
	platform string
	result   *models.PublishResult
	err      error
}

// publishPlatforms fans out to every still-pending platform concurrently.
// The checkpoint is persisted as each result lands, so a crash between two
// platforms resumes with only the unattempted ones.
func (w *Workflow) publishPlatforms(ctx context.Context, task *models.Task) error {
	pending := task.Checkpoint.Pending()
	if len(pending) == 0 {
		return nil
	}
	sort.Strings(pending)

	content, err := publisher.ContentFromTask(task)
	if err != nil {
		for _, platform := range pending {
			task.Checkpoint.MarkFailed(platform, err.Error())
		}
		return nil
	}

	// Connections and prepared media are captured up front. A store outage
	// here is fatal to the attempt, unlike an individual platform rejecting
	// the content; and the workers must not read the checkpoint map while
	// the result loop below writes sibling outcomes into it.
	conns := make(map[string]*models.Connection, len(pending))
	media := make(map[string][]string, len(pending))
	for _, platform := range pending {
		conn, err := w.connections.GetConnection(ctx, task.Owner, platform)
		if err != nil {
			return err
		}
		conns[platform] = conn
		media[platform] = task.Checkpoint.Platforms[platform].MediaIDs
	}

	results := make(chan publishOutcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range pending {
		platform := platform
		g.Go(func() error {
			res, err := w.publishOne(gctx, content, platform, conns[platform], media[platform])
			results <- publishOutcome{platform: platform, result: res, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for out := range results {
		if out.err != nil {
			perr := &models.PlatformPublishError{Platform: out.platform, Err: out.err}
			w.logger.Warn("Platform publish failed",
				zap.String("task_id", task.ID),
				zap.String("platform", out.platform),
				zap.Error(perr))
			task.Checkpoint.MarkFailed(out.platform, out.err.Error())
			task.PublishResults[out.platform] = models.PublishResult{
				Platform: out.platform,
				Status:   models.OutcomeFailure,
				Error:    out.err.Error(),
			}
		} else {
			task.Checkpoint.MarkSucceeded(out.platform)
			task.PublishResults[out.platform] = *out.result
			w.logger.Info("Platform publish succeeded",
				zap.String("task_id", task.ID),
				zap.String("platform", out.platform),
				zap.String("external_id", out.result.ExternalID))
		}
		if err := w.save(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) publishOne(ctx context.Context, content *publisher.Content, platform string, conn *models.Connection, mediaIDs []string) (*models.PublishResult, error) {
	pub, err := w.registry.Get(platform)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("no connection for platform %s", platform)
	}

	platformContent := *content
	platformContent.MediaUploadIDs = mediaIDs

	result, err := pub.Publish(ctx, &platformContent, conn)
	if err != nil {
		return nil, err
	}
	if result.Platform == "" {
		result.Platform = platform
	}
	return result, nil
}

// finalize folds per-platform results into the task status: any success is
// published (partial success is not total failure), zero successes is
// failed.
func (w *Workflow) finalize(task *models.Task) error {
	// Platforms that failed before stage 3 (no connection, media prep) have
	// checkpoint state but no result yet; fold them in so the report
	// itemizes every platform.
	for _, platform := range task.Platforms {
		if _, ok := task.PublishResults[platform]; ok {
			continue
		}
		if p, exists := task.Checkpoint.Platforms[platform]; exists && p.State == models.PlatformFailed {
			task.PublishResults[platform] = models.PublishResult{
				Platform: platform,
				Status:   models.OutcomeFailure,
				Error:    p.Error,
			}
		}
	}

	succeeded := 0
	for _, platform := range task.Platforms {
		if r, ok := task.PublishResults[platform]; ok && r.Status == models.OutcomeSuccess {
			succeeded++
		}
	}

	target := models.StatusPublished
	if succeeded == 0 && len(task.Platforms) > 0 {
		target = models.StatusFailed
	}
	if err := models.ValidateTransition(task.Status, target); err != nil {
		return err
	}
	task.Status = target
	return nil
}

func (w *Workflow) save(ctx context.Context, task *models.Task) error {
	return w.tasks.Save(ctx, task, task.Version)
}
