package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	ingestUseCase "github.com/allisson/mqingest/internal/ingest/usecase"
)

// IdleEvictor closes connections that sat unused past their idle timeout.
type IdleEvictor interface {
	EvictIdle() int
}

// Server is a blocking server that stops on Shutdown.
type Server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// IngestOptions controls RunIngest.
type IngestOptions struct {
	// Once runs a single pass, prints its result and exits.
	Once            bool
	Interval        time.Duration
	ReapInterval    time.Duration
	ShutdownTimeout time.Duration
	Format          string
}

// RunIngest drains the source queue. In continuous mode the job loop, the
// idle connection reaper and the ops server run until ctx is cancelled or
// one of them fails. server and pool may be nil.
func RunIngest(
	ctx context.Context,
	job ingestUseCase.JobUseCase,
	pool IdleEvictor,
	server Server,
	logger *slog.Logger,
	out io.Writer,
	opts IngestOptions,
) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}

	if opts.Once {
		result, err := job.Run(ctx)
		if result != nil {
			if outErr := outputIngestResult(out, result, opts.Format); outErr != nil {
				return outErr
			}
		}
		if err != nil {
			return fmt.Errorf("ingest run failed: %w", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := ingestUseCase.Schedule(gctx, job, opts.Interval, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if pool != nil && opts.ReapInterval > 0 {
		g.Go(func() error {
			reapIdle(gctx, pool, opts.ReapInterval, logger)
			return nil
		})
	}

	if server != nil {
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return fmt.Errorf("ops server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("ops server shutdown: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func reapIdle(ctx context.Context, pool IdleEvictor, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := pool.EvictIdle(); evicted > 0 {
				logger.Info("evicted idle broker connections", slog.Int("count", evicted))
			}
		}
	}
}

func outputIngestResult(out io.Writer, result *ingestDomain.Result, format string) error {
	if format == FormatJSON {
		return writeJSON(out, result)
	}
	_, err := fmt.Fprintf(out,
		"Read: %d\nProcessed: %d\nFailed: %d\nDiverted: %d\nWrite failures: %d\nDuration: %s\n",
		result.ReadCount,
		result.ProcessedCount,
		result.FailedCount,
		result.DivertedCount,
		result.WriteFailures,
		result.Duration,
	)
	return err
}
