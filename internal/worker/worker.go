package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/recordings"
	"github.com/aura-webinar/recording-sync/internal/syncer"
	"github.com/aura-webinar/recording-sync/pkg/queue"
)

// Source is the job queue the processor drains.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Checker re-checks one recording against the conferencing service.
type Checker interface {
	CheckRecording(ctx context.Context, id uuid.UUID) (syncer.Change, error)
}

// CheckProcessor processes on-demand recording check jobs.
type CheckProcessor struct {
	checker Checker
	queue   Source
	backoff time.Duration
	logger  *zap.Logger
}

// NewCheckProcessor creates a recording check processor.
func NewCheckProcessor(checker Checker, q Source, logger *zap.Logger) *CheckProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckProcessor{checker: checker, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one recording check job.
func (p *CheckProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingCheck {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RecordingCheckPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	change, err := p.checker.CheckRecording(ctx, payload.RecordingID)
	if errors.Is(err, recordings.ErrNotFound) {
		p.logger.Info("recording gone before check, dropping job", zap.String("job_id", job.ID), zap.String("recording_id", payload.RecordingID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("check recording %s: %w", payload.RecordingID, err)
	}
	p.logger.Info("recording checked on demand",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("action", string(change.Action)),
		zap.String("requested_by", payload.RequestedBy))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CheckProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("check worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *CheckProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
