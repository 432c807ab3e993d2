package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	backoutUseCase "github.com/allisson/mqingest/internal/backout/usecase"
)

// RunBackoutStats prints the depth of queue and its backout queue.
func RunBackoutStats(
	ctx context.Context,
	useCase backoutUseCase.BackoutUseCase,
	out io.Writer,
	queue string,
	format string,
) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	stats, err := useCase.GetStats(ctx, queue)
	if err != nil {
		return fmt.Errorf("failed to get backout stats: %w", err)
	}

	if format == FormatJSON {
		return writeJSON(out, stats)
	}

	_, err = fmt.Fprintf(out, "Queue: %s\nMessages: %d\nConsumers: %d\n",
		stats.QueueName, stats.MessageCount, stats.ConsumerCount)
	if err != nil {
		return err
	}
	if !stats.BackoutQueueExists {
		_, err = fmt.Fprintf(out, "Backout queue: %s (not declared)\n", stats.BackoutQueueName)
		return err
	}
	_, err = fmt.Fprintf(out, "Backout queue: %s\nBackout messages: %d\nBackout consumers: %d\n",
		stats.BackoutQueueName, stats.BackoutMessageCount, stats.BackoutConsumerCount)
	return err
}

// RunBackoutReplay moves messages from the backout queue of queue back onto
// queue. Exactly one of all or batchSize > 0 must be given.
func RunBackoutReplay(
	ctx context.Context,
	useCase backoutUseCase.BackoutUseCase,
	logger *slog.Logger,
	out io.Writer,
	queue string,
	all bool,
	batchSize int,
	format string,
) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if all == (batchSize > 0) {
		return errors.New("exactly one of --all or --batch-size is required")
	}

	backoutQueue := useCase.BackoutQueueName(queue)
	logger.Info("replaying backout queue",
		slog.String("backout_queue", backoutQueue),
		slog.String("queue", queue),
		slog.Bool("all", all),
		slog.Int("batch_size", batchSize),
	)

	var moved int
	var err error
	if all {
		moved, err = useCase.MoveAll(ctx, backoutQueue, queue)
	} else {
		moved, err = useCase.MoveBatch(ctx, backoutQueue, queue, batchSize)
	}
	if err != nil {
		err = fmt.Errorf("failed to replay backout queue: %w", err)
		// A partial move is still reported before failing.
		if moved > 0 {
			if outErr := outputReplay(out, moved, backoutQueue, queue, format); outErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to write output: %w", outErr))
			}
		}
		return err
	}

	logger.Info("replay completed", slog.Int("moved", moved))
	return outputReplay(out, moved, backoutQueue, queue, format)
}

func outputReplay(out io.Writer, moved int, from, to, format string) error {
	if format == FormatJSON {
		return writeJSON(out, map[string]interface{}{
			"moved": moved,
			"from":  from,
			"to":    to,
		})
	}
	_, err := fmt.Fprintf(out, "Moved %d message(s) from %s to %s\n", moved, from, to)
	return err
}
