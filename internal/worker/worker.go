package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/presenta-live/backend/internal/history"
	"github.com/presenta-live/backend/pkg/queue"
)

// HistoryProcessor processes history archival jobs: attendance records and
// dismissed mood tallies, persisted to Postgres.
type HistoryProcessor struct {
	histRepo *history.Repository
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewHistoryProcessor creates a history archival processor.
func NewHistoryProcessor(histRepo *history.Repository, q *queue.Queue, logger *zap.Logger) *HistoryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryProcessor{histRepo: histRepo, queue: q, logger: logger}
}

// Process executes one job.
func (p *HistoryProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeTallyArchive:
		var payload queue.TallyArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := p.histRepo.ArchiveTally(ctx, payload.SessionID, payload.ModuleID, payload.Counts); err != nil {
			return fmt.Errorf("archive tally: %w", err)
		}
		p.logger.Debug("tally archived",
			zap.String("session_id", payload.SessionID.String()),
			zap.String("module_id", payload.ModuleID.String()))
	case queue.JobTypeAttendance:
		var payload queue.AttendancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := p.histRepo.RecordAttendance(ctx, payload.SessionID, payload.ConnectionID, payload.Role, payload.JoinedAt, payload.LeftAt); err != nil {
			return fmt.Errorf("record attendance: %w", err)
		}
		p.logger.Debug("attendance recorded",
			zap.String("session_id", payload.SessionID.String()),
			zap.String("connection_id", payload.ConnectionID))
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *HistoryProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("history worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
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
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
