// Package queue carries dispatch tasks from the admission gate to the
// dispatch workers. Tasks name a channel, not events: a worker that picks
// one up drains everything dispatchable for that channel, so the Redis and
// in-memory queues coalesce repeated tasks for a channel that is already
// waiting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/pixelrelay/internal/domain"
)

// ErrFull is returned by bounded queues that cannot take another task.
var ErrFull = errors.New("dispatch queue full")

// Handler processes one task. Returning an error leaves redelivery to the
// backend (SQS redelivers after the visibility timeout; Redis and memory
// drop the task and rely on the pending sweeper).
type Handler func(ctx context.Context, task domain.DispatchTask) error

// Queue is a dispatch task queue.
type Queue interface {
	Enqueue(ctx context.Context, task domain.DispatchTask) error
	// Consume blocks handling tasks one at a time until ctx is done.
	// Several goroutines may consume from the same queue.
	Consume(ctx context.Context, h Handler) error
	// Len reports the approximate number of waiting tasks.
	Len(ctx context.Context) (int64, error)
}

func encode(task domain.DispatchTask) (string, error) {
	if task.ChannelID == "" {
		return "", errors.New("dispatch task without channel id")
	}
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal dispatch task: %w", err)
	}
	return string(b), nil
}

func decode(body string) (domain.DispatchTask, error) {
	var task domain.DispatchTask
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return task, fmt.Errorf("unmarshal dispatch task: %w", err)
	}
	if task.ChannelID == "" {
		return task, errors.New("dispatch task without channel id")
	}
	return task, nil
}
