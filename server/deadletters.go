package server

import (
	"context"
	"fmt"
	"io"

	"clip-worker/config"
	"clip-worker/dto"
	"clip-worker/queue"
)

// ListDeadLetters writes one line per dead-lettered work item of the
// configured durable queue.
func ListDeadLetters(ctx context.Context, cfg *config.Config, w io.Writer) (int, error) {
	d := &deps{}
	defer d.close(ctx)
	if err := d.openQueue(ctx, cfg, ModeWorker); err != nil {
		return 0, err
	}
	return writeDeadLetters(ctx, d.queue, w)
}

func writeDeadLetters(ctx context.Context, q queue.Queue, w io.Writer) (int, error) {
	reader, ok := q.(queue.DeadLetterReader)
	if !ok {
		return 0, fmt.Errorf("queue driver %T keeps no dead letters", q)
	}
	items, err := reader.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, deadLetterLine(item)); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func deadLetterLine(item dto.WorkItem) string {
	return fmt.Sprintf("%s %s %q", item.JobId, item.Kind, item.SourceRef)
}
