package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/storage"
)

// FromConfig builds the configured queue. rdb may be nil unless the
// driver is redis.
func FromConfig(ctx context.Context, cfg config.QueueConfig, creds config.AWSConfig, rdb *redis.Client) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryQueue(0), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("queue driver redis needs redis.url")
		}
		return NewRedisQueue(rdb, cfg.Key), nil
	case "sqs":
		if cfg.SQSURL == "" {
			return nil, fmt.Errorf("queue driver sqs needs queue.sqs_url")
		}
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Region, creds)
		if err != nil {
			return nil, err
		}
		return NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSURL), nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
}
