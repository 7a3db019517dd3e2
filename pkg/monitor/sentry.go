package monitor

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled bool

// Init 初始化 Sentry；dsn 为空时所有上报为 no-op
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	enabled = true
	return nil
}

// CaptureError 上报错误并附带标签
func CaptureError(err error, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Recover 上报 panic 值
func Recover(hub *sentry.Hub, v interface{}) {
	if !enabled {
		return
	}
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.Recover(v)
}

// Flush 退出前等待事件发送
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}
