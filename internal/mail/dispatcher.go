package mail

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/pkg/logger"
)

// Labels: status (queued, dropped, sent, failed)
var jobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "microblog",
	Subsystem: "mail",
	Name:      "jobs_total",
	Help:      "Outgoing emails by outcome",
}, []string{"status"})

// Dispatcher 本地异步发信队列；投递失败只记日志，不重试
type Dispatcher struct {
	transport   Transport
	ch          chan *Message
	sendTimeout time.Duration
}

func NewDispatcher(transport Transport, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Dispatcher{transport: transport, ch: make(chan *Message, queueSize), sendTimeout: 30 * time.Second}
}

// Start 启动 worker；返回停止函数，在 ctx 截止前尽量排空队列
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	var (
		wg       sync.WaitGroup
		stopOnce sync.Once
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				case <-stopCh:
					d.drain()
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		stopOnce.Do(func() { close(stopCh) })
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			logger.Warn("mail queue not drained before shutdown", zap.Int("pending", len(d.ch)))
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	if err := d.transport.Send(ctx, msg); err != nil {
		jobs.WithLabelValues("failed").Inc()
		log := logger.Error
		if msg.Subject == alertSubject {
			// 告警邮件自身失败不能再触发告警
			log = logger.Warn
		}
		log("send mail failed", zap.String("subject", msg.Subject), zap.Strings("to", msg.Recipients), zap.Error(err))
		return
	}
	jobs.WithLabelValues("sent").Inc()
}

// SendEmail 入队后立即返回；队列满时丢弃
func (d *Dispatcher) SendEmail(subject, sender string, recipients []string, textBody, htmlBody string) bool {
	msg := &Message{Subject: subject, Sender: sender, Recipients: recipients, TextBody: textBody, HTMLBody: htmlBody}
	select {
	case d.ch <- msg:
		jobs.WithLabelValues("queued").Inc()
		return true
	default:
		jobs.WithLabelValues("dropped").Inc()
		logger.Warn("mail queue full, drop message", zap.String("subject", subject), zap.Strings("to", recipients))
		return false
	}
}

// QueueLen 返回当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }
