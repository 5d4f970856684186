package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/pixelrelay/internal/domain"
)

func task(ch string) domain.DispatchTask {
	return domain.DispatchTask{ChannelID: ch, EnqueuedAt: time.Unix(1700000000, 0).UTC(), Reason: "admit"}
}

// collect consumes until n tasks arrived or the deadline passes.
func collect(t *testing.T, q Queue, n int) []domain.DispatchTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []domain.DispatchTask
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Consume(ctx, func(_ context.Context, tk domain.DispatchTask) error {
			mu.Lock()
			got = append(got, tk)
			if len(got) == n {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()
	<-done
	mu.Lock()
	defer mu.Unlock()
	return got
}

func TestMemoryQueue_CoalescesPerChannel(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.NoError(t, q.Enqueue(ctx, task("c2")))

	n, _ := q.Len(ctx)
	assert.Equal(t, int64(2), n)

	got := collect(t, q, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ChannelID)

	// Once consumed the channel can be queued again.
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	n, _ = q.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	assert.ErrorIs(t, q.Enqueue(ctx, task("c2")), ErrFull)
	assert.Error(t, q.Enqueue(ctx, task("")))
}

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := NewRedisQueue(rdb, "pixelrelay:dispatch")
	q.pollTimeout = time.Second
	return q, mr
}

func TestRedisQueue_EnqueueCoalesces(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.NoError(t, q.Enqueue(ctx, task("c2")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("pixelrelay:dispatch:queued:c1"))
	assert.True(t, mr.Exists("pixelrelay:dispatch:queued:c2"))
	assert.Equal(t, DefaultMarkerTTL, mr.TTL("pixelrelay:dispatch:queued:c1"))
}

func TestRedisQueue_StaleMarkerExpires(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	// A marker left behind by a crashed producer or consumer.
	require.NoError(t, mr.Set("pixelrelay:dispatch:queued:c1", "1"))
	mr.SetTTL("pixelrelay:dispatch:queued:c1", DefaultMarkerTTL)

	require.NoError(t, q.Enqueue(ctx, task("c1")))
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(0), n)

	mr.FastForward(DefaultMarkerTTL + time.Second)
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	n, _ = q.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestRedisQueue_ConsumeInOrderAndClearsMarker(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.NoError(t, q.Enqueue(ctx, task("c2")))

	got := collect(t, q, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ChannelID)
	assert.Equal(t, "c2", got[1].ChannelID)
	assert.Equal(t, "admit", got[0].Reason)

	assert.False(t, mr.Exists("pixelrelay:dispatch:queued:c1"))
	assert.False(t, mr.Exists("pixelrelay:dispatch:queued:c2"))

	// Once consumed the channel can be queued again.
	require.NoError(t, q.Enqueue(ctx, task("c1")))
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestRedisQueue_DropsMalformed(t *testing.T) {
	q, mr := newRedisQueue(t)
	mr.Lpush("pixelrelay:dispatch", "not json")
	require.NoError(t, q.Enqueue(context.Background(), task("c9")))

	got := collect(t, q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "c9", got[0].ChannelID)
}

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	inbox    []types.Message
	deleted  []string
	depth    string
	received int
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.received++
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{"ApproximateNumberOfMessages": f.depth}}, nil
}

func TestSQSQueue_RoundTrip(t *testing.T) {
	fake := &fakeSQS{depth: "7"}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/1/dispatch")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("c1")))
	require.Len(t, fake.sent, 1)

	fake.inbox = []types.Message{
		{Body: aws.String(fake.sent[0]), ReceiptHandle: aws.String("h1")},
		{Body: aws.String("garbage"), ReceiptHandle: aws.String("h2")},
		{Body: aws.String(`{"channel_id":"c-fail"}`), ReceiptHandle: aws.String("h3")},
	}

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var got []string
	q.Consume(ctx2, func(_ context.Context, tk domain.DispatchTask) error {
		got = append(got, tk.ChannelID)
		if tk.ChannelID == "c-fail" {
			cancel()
			return errors.New("lock busy")
		}
		return nil
	})

	assert.Equal(t, []string{"c1", "c-fail"}, got)
	// Successful and malformed messages are deleted; failed ones stay for redelivery.
	assert.ElementsMatch(t, []string{"h1", "h2"}, fake.deleted)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
