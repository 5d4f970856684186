package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue publishes tasks to an SQS queue and long-polls them back. A
// task is deleted only after its handler succeeds; failed tasks reappear
// once their visibility timeout lapses.
type SQSQueue struct {
	client     SQSAPI
	queueURL   string
	waitTime   int32
	errBackoff time.Duration
}

// NewSQSQueue creates a queue on queueURL.
func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, waitTime: 20, errBackoff: 5 * time.Second}
}

func (q *SQSQueue) Enqueue(ctx context.Context, task domain.DispatchTask) error {
	body, err := encode(task)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("publish dispatch task: %w", err)
	}
	return nil
}

func (q *SQSQueue) Consume(ctx context.Context, h Handler) error {
	logger.Info("sqs dispatch consumer started", "queue", q.queueURL)
	for ctx.Err() == nil {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     q.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("sqs receive failed", "queue", q.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.errBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			task, err := decode(aws.ToString(msg.Body))
			if err != nil {
				logger.Warn("dropping malformed dispatch task", "queue", q.queueURL, "error", err)
				q.delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := h(ctx, task); err != nil {
				logger.Warn("dispatch task failed, leaving for redelivery", "channel", task.ChannelID, "error", err)
				continue
			}
			q.delete(ctx, msg.ReceiptHandle)
		}
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, handle *string) {
	_, err := q.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("sqs delete failed", "queue", q.queueURL, "error", err)
	}
}

func (q *SQSQueue) Len(ctx context.Context) (int64, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs queue attributes: %w", err)
	}
	n, err := strconv.ParseInt(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth: %w", err)
	}
	return n, nil
}
