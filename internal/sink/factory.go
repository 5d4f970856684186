package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/storage"
)

// Sink receives admitted events.
type Sink interface {
	Record(ctx context.Context, e domain.TrackedEvent)
}

// FromConfig builds the configured sink and starts its flusher. The
// returned stop function flushes buffered records and must be called on
// shutdown.
func FromConfig(ctx context.Context, cfg config.SinkConfig, creds config.AWSConfig) (Sink, func(), error) {
	var store storage.ObjectStore
	switch strings.ToLower(cfg.Driver) {
	case "", "log":
		return NewLogSink(), func() {}, nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, nil, fmt.Errorf("sink driver s3 needs a bucket")
		}
		s3Store, err := storage.NewS3StoreFromConfig(ctx, cfg, creds)
		if err != nil {
			return nil, nil, err
		}
		store = s3Store
	case "file":
		if cfg.Dir == "" {
			return nil, nil, fmt.Errorf("sink driver file needs a dir")
		}
		store = storage.NewFileStore(cfg.Dir)
	default:
		return nil, nil, fmt.Errorf("unknown sink driver %q", cfg.Driver)
	}

	bs := NewBatchSink(store, cfg.Prefix, cfg.MaxBatch, cfg.FlushInterval())
	go bs.Run(context.WithoutCancel(ctx))
	return bs, bs.Close, nil
}
