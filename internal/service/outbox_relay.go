package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/internal/events"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/pkg/logger"
)

// OutboxRelay 轮询 outbox，把已提交的事件投递给 Publisher
type OutboxRelay struct {
	outbox       repository.OutboxRepository
	publisher    events.Publisher
	claimLimit   int
	pollInterval time.Duration
	workers      int
}

func NewOutboxRelay(outbox repository.OutboxRepository, publisher events.Publisher, workers, claimLimit int, pollInterval time.Duration) *OutboxRelay {
	if workers <= 0 {
		workers = 1
	}
	if claimLimit <= 0 {
		claimLimit = 64
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &OutboxRelay{outbox: outbox, publisher: publisher, workers: workers, claimLimit: claimLimit, pollInterval: pollInterval}
}

// Start 启动若干 worker 轮询 outbox；返回停止函数，等待进行中的批次结束
func (r *OutboxRelay) Start(ctx context.Context) func(context.Context) error {
	if n, err := r.outbox.ResetProcessing(ctx); err != nil {
		logger.Warn("outbox reset failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("outbox events requeued", zap.Int64("count", n))
	}

	stop := make(chan struct{})
	var (
		wg       sync.WaitGroup
		stopOnce sync.Once
	)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		stopOnce.Do(func() { close(stop) })
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *OutboxRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(context.Background()); err != nil {
				logger.Warn("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce 领取一批事件并投递，返回成功投递的条数
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Claim(ctx, r.claimLimit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, ev := range batch {
		if err := r.publisher.Publish(ctx, ev.Topic, []byte(ev.Payload)); err != nil {
			outboxRelayed.WithLabelValues(ev.Topic, "error").Inc()
			logger.Warn("publish event failed",
				zap.String("topic", ev.Topic), zap.String("id", ev.ID), zap.Int("attempts", ev.Attempts+1), zap.Error(err))
			if rerr := r.outbox.Release(ctx, ev.ID); rerr != nil {
				logger.Error("outbox release failed", zap.String("id", ev.ID), zap.Error(rerr))
			}
			continue
		}
		outboxRelayed.WithLabelValues(ev.Topic, "ok").Inc()
		if err := r.outbox.MarkDone(ctx, ev.ID, time.Now()); err != nil {
			logger.Error("outbox mark done failed", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
