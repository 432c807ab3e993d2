package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// JobConfig holds ingest job configuration.
type JobConfig struct {
	ChunkSize int
	// DivertFailed sends FAILED messages to their backout queue before they are written.
	DivertFailed bool
	// Interval is the pause between runs under Schedule.
	Interval time.Duration
}

// Job drives reader, processor and writer in chunks.
type Job struct {
	config    JobConfig
	reader    MessageReader
	processor MessageProcessor
	writer    MessageWriter
	diverter  Diverter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewJob creates a Job. diverter may be nil.
func NewJob(
	config JobConfig,
	reader MessageReader,
	processor MessageProcessor,
	writer MessageWriter,
	diverter Diverter,
	logger *slog.Logger,
) *Job {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 100
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	return &Job{
		config:    config,
		reader:    reader,
		processor: processor,
		writer:    writer,
		diverter:  diverter,
		logger:    logger,
		tracer:    otel.Tracer("ingest"),
	}
}

// Run opens the reader, reads until a receive times out, and writes the
// processed messages in chunks of ChunkSize. Deliveries are acknowledged only
// after their chunk is written; a failed write returns them to the queue. A
// reader or writer error ends the run and is returned with the counts
// gathered so far. On a reader error the partial chunk is still written.
func (j *Job) Run(ctx context.Context) (result *ingestDomain.Result, err error) {
	ctx, span := j.tracer.Start(ctx, "Job.Run")
	start := time.Now()
	result = &ingestDomain.Result{}

	defer func() {
		result.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("ingest.read", result.ReadCount),
			attribute.Int("ingest.processed", result.ProcessedCount),
			attribute.Int("ingest.failed", result.FailedCount),
			attribute.Int("ingest.diverted", result.DivertedCount),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := j.reader.Open(ctx); err != nil {
		return result, err
	}
	defer j.reader.Close()

	chunk := make([]*messageDomain.Message, 0, j.config.ChunkSize)
	for {
		msg, err := j.reader.Read(ctx)
		if err != nil {
			if len(chunk) > 0 {
				err = errors.Join(err, j.commit(context.WithoutCancel(ctx), chunk, result))
			}
			return result, err
		}
		if msg == nil {
			break
		}
		result.ReadCount++

		processed := j.processor.Process(msg)
		if processed == nil {
			continue
		}
		if processed.Failed() {
			result.FailedCount++
			j.divert(ctx, processed, result)
		} else {
			result.ProcessedCount++
		}

		chunk = append(chunk, processed)
		if len(chunk) >= j.config.ChunkSize {
			if err := j.commit(ctx, chunk, result); err != nil {
				return result, err
			}
			chunk = chunk[:0]
		}
	}

	if err := j.commit(ctx, chunk, result); err != nil {
		return result, err
	}

	j.logger.Info("ingest run completed",
		slog.Int("read", result.ReadCount),
		slog.Int("processed", result.ProcessedCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("diverted", result.DivertedCount),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *Job) divert(ctx context.Context, msg *messageDomain.Message, result *ingestDomain.Result) {
	if !j.config.DivertFailed || j.diverter == nil {
		return
	}
	if err := j.diverter.Divert(ctx, msg); err != nil {
		j.logger.Warn("failed to divert message to backout queue",
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err),
		)
		return
	}
	if msg.Status == messageDomain.StatusBackout {
		result.DivertedCount++
	}
}

// commit writes chunk and then acknowledges every delivery read so far. When
// the write fails the deliveries are requeued instead.
func (j *Job) commit(ctx context.Context, chunk []*messageDomain.Message, result *ingestDomain.Result) error {
	if len(chunk) > 0 {
		if err := j.flush(ctx, chunk, result); err != nil {
			if rbErr := j.reader.Rollback(); rbErr != nil {
				j.logger.Warn("failed to requeue unwritten messages", slog.Any("error", rbErr))
				return errors.Join(err, rbErr)
			}
			return err
		}
	}
	return j.reader.Commit()
}

func (j *Job) flush(ctx context.Context, chunk []*messageDomain.Message, result *ingestDomain.Result) error {
	err := j.writer.Write(ctx, chunk)
	var batchErr *ingestDomain.BatchWriteError
	if errors.As(err, &batchErr) {
		result.WriteFailures += batchErr.Failed
	}
	return err
}

// Interval returns the pause between runs used by Schedule.
func (j *Job) Interval() time.Duration {
	return j.config.Interval
}

// Schedule calls job.Run every interval until ctx is cancelled. The first run
// starts immediately. Failed runs are logged and the loop continues.
func Schedule(ctx context.Context, job JobUseCase, interval time.Duration, logger *slog.Logger) error {
	logger.Info("starting ingest job", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("stopping ingest job")
				return ctx.Err()
			}
			logger.Error("ingest run failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			logger.Info("stopping ingest job")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
