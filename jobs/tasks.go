package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/smarterp/smarterp/internal/observability"
	"github.com/smarterp/smarterp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries emitted by access-control mutations.
	QueueAudit = "audit"
	// TaskAccessAudit persists one access-control audit entry.
	TaskAccessAudit = "audit:access"
	// TaskAuditPurge removes audit entries past the retention window.
	TaskAuditPurge = "audit:purge"
)

// NewAccessAuditTask constructs an Asynq task carrying entry.
func NewAccessAuditTask(entry shared.AuditLog) (*asynq.Task, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessAudit, data, asynq.MaxRetry(5), asynq.Queue(QueueAudit)), nil
}

// AccessAuditJob writes queued audit entries.
type AccessAuditJob struct {
	recorder shared.AuditRecorder
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewAccessAuditJob constructs the job handler.
func NewAccessAuditJob(recorder shared.AuditRecorder, logger *slog.Logger, metrics *observability.Metrics) *AccessAuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessAuditJob{recorder: recorder, logger: logger, metrics: metrics}
}

// Handle processes TaskAccessAudit tasks.
func (j *AccessAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	done := j.metrics.TrackJob(TaskAccessAudit)
	var entry shared.AuditLog
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		j.logger.Warn("discard malformed audit task", slog.Any("error", err))
		return done(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err := entry.Validate(); err != nil {
		return done(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err := j.recorder.Record(ctx, entry); err != nil {
		j.logger.Error("record audit entry", slog.String("action", entry.Action), slog.Any("error", err))
		return done(err)
	}
	return done(nil)
}

// AuditPurgePayload configures a retention run.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs a retention task.
func NewAuditPurgeTask(retentionDays int) (*asynq.Task, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("jobs: retention days must be positive")
	}
	data, err := json.Marshal(AuditPurgePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPurge, data), nil
}

// AuditPurgeJob deletes audit entries older than the configured retention.
type AuditPurgeJob struct {
	db      shared.Execer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAuditPurgeJob constructs the job handler.
func NewAuditPurgeJob(db shared.Execer, logger *slog.Logger, metrics *observability.Metrics) *AuditPurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPurgeJob{db: db, logger: logger, metrics: metrics}
}

// Handle processes TaskAuditPurge tasks.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	done := j.metrics.TrackJob(TaskAuditPurge)
	var payload AuditPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionDays <= 0 {
		return done(fmt.Errorf("%w: invalid purge payload", asynq.SkipRetry))
	}
	tag, err := j.db.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < NOW() - make_interval(days => $1)`, payload.RetentionDays)
	if err != nil {
		return done(err)
	}
	j.logger.Info("audit purge", slog.Int64("deleted", tag.RowsAffected()), slog.Int("retention_days", payload.RetentionDays))
	return done(nil)
}
