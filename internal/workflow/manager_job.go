package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/notifications"
	"geass/internal/services"
	"geass/internal/transcription"
)

// ProcessNext claims the oldest pending job and runs it to a terminal status.
// It reports false when nothing was pending.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, err := m.store.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	m.refreshJobGauge(ctx)
	m.processJob(ctx, job)
	m.refreshJobGauge(context.WithoutCancel(ctx))
	return true, nil
}

func (m *Manager) processJob(ctx context.Context, job *jobs.Job) {
	jobCtx := services.WithJobKey(ctx, job.Key)
	jobCtx = services.WithCallID(jobCtx, job.CallID)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())
	logger := logging.WithContext(jobCtx, m.logger)

	m.markBusy(1)
	defer m.markBusy(-1)

	started := time.Now()
	logger.Info("transcription started",
		logging.String(logging.FieldEventType, "transcription_start"),
		logging.String("filename", job.Filename),
	)

	transcript, runErr := m.transcribeWithHeartbeat(jobCtx, job)
	elapsed := time.Since(started)
	// The final write must land even when shutdown cancelled the run.
	writeCtx := context.WithoutCancel(jobCtx)

	if runErr != nil {
		message := m.failureMessage(ctx, runErr)
		ok, err := m.store.Fail(writeCtx, job.Key, job.CallID, message, m.now())
		if err != nil {
			logger.Error("failed to persist transcription failure", logging.Error(err))
			m.setLastError(err)
			return
		}
		if !ok {
			logger.Info("attempt superseded before failure was recorded")
			return
		}
		m.metrics.ObserveTranscription(string(jobs.StatusFailed), elapsed)
		logging.ErrorWithContext(logger, "transcription failed", "transcription_failed",
			logging.String("error_message", message),
			logging.String("error_kind", services.Kind(runErr)),
			logging.Duration("elapsed", elapsed),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "check ffmpeg and whisperx output in the daemon log"),
		)
		m.setLastError(runErr)
		m.recordLastJob(writeCtx, job.Key)
		if message != jobs.ShutdownReason {
			m.notify(logger, func(n notifications.Service) error {
				return n.NotifyTranscriptionFailed(writeCtx, job.Filename, job.CallID, message)
			})
		}
		return
	}

	ok, err := m.store.Complete(writeCtx, job.Key, job.CallID, transcript, m.now())
	if err != nil {
		logger.Error("failed to persist transcript", logging.Error(err))
		m.setLastError(err)
		return
	}
	if !ok {
		logger.Info("attempt superseded before transcript was recorded")
		return
	}
	m.metrics.ObserveTranscription(string(jobs.StatusCompleted), elapsed)
	logger.Info("transcription completed",
		logging.String(logging.FieldEventType, "transcription_complete"),
		logging.Int("segments", len(transcript.Segments)),
		logging.Duration("elapsed", elapsed),
	)
	m.recordLastJob(writeCtx, job.Key)
	m.notify(logger, func(n notifications.Service) error {
		return n.NotifyTranscriptionCompleted(writeCtx, job.Filename, job.CallID, elapsed)
	})
}

func (m *Manager) notify(logger *slog.Logger, send func(notifications.Service) error) {
	if m.notifier == nil {
		return
	}
	if err := send(m.notifier); err != nil {
		logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "job state is unaffected"),
		)
	}
}

func (m *Manager) transcribeWithHeartbeat(ctx context.Context, job *jobs.Job) (transcript transcription.Transcript, err error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go m.heartbeat.StartLoop(runCtx, &wg, job)
	defer func() {
		cancel()
		wg.Wait()
	}()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transcriber panicked", logging.Any("panic", r), logging.String("stack", string(debug.Stack())))
			err = services.Wrap(services.ErrTranscription, "workflow", "transcribe", fmt.Sprintf("transcriber panicked: %v", r), nil)
		}
	}()

	if strings.TrimSpace(job.AudioPath) == "" {
		return transcription.Transcript{}, services.Wrap(services.ErrValidation, "workflow", "transcribe", "job has no audio file", nil)
	}
	transcript, err = m.transcriber.Transcribe(runCtx, job.AudioPath)
	if err == nil {
		return transcript, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return transcript, services.Wrap(services.ErrTimeout, "workflow", "transcribe",
			fmt.Sprintf("transcription exceeded %s", m.timeout), err)
	}
	return transcript, err
}

// failureMessage picks the diagnostic stored on the job.
func (m *Manager) failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return jobs.ShutdownReason
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "transcription failed"
	}
	return message
}

func (m *Manager) markBusy(delta int) {
	m.mu.Lock()
	m.busy += delta
	m.mu.Unlock()
	if delta > 0 {
		m.metrics.WorkerStarted()
	} else {
		m.metrics.WorkerFinished()
	}
}

func (m *Manager) recordLastJob(ctx context.Context, key string) {
	job, err := m.store.Get(ctx, key)
	if err != nil || job == nil {
		return
	}
	m.mu.Lock()
	m.lastJob = job
	m.mu.Unlock()
}
