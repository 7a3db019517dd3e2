package mail

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const alertSubject = "Microblog Failure"

// AlertCore 把 ERROR 及以上级别的日志抄送管理员。
// 只入队不等待投递，队列满时丢弃。
type AlertCore struct {
	dispatcher *Dispatcher
	sender     string
	admins     []string
	enc        zapcore.Encoder
}

func NewAlertCore(d *Dispatcher, sender string, admins []string) *AlertCore {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return &AlertCore{dispatcher: d, sender: sender, admins: admins, enc: zapcore.NewConsoleEncoder(cfg)}
}

// Hook 返回可传给 logger.Apply 的 zap 选项；没有管理员时为空操作
func (a *AlertCore) Hook() zap.Option {
	return zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		if len(a.admins) == 0 {
			return c
		}
		return zapcore.NewTee(c, a)
	})
}

func (a *AlertCore) Enabled(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }

func (a *AlertCore) With(fields []zapcore.Field) zapcore.Core {
	enc := a.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	clone := *a
	clone.enc = enc
	return &clone
}

func (a *AlertCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(ent.Level) {
		return ce.AddCore(ent, a)
	}
	return ce
}

func (a *AlertCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := a.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	body := buf.String()
	buf.Free()
	a.dispatcher.SendEmail(alertSubject, a.sender, a.admins, body, "")
	return nil
}

func (a *AlertCore) Sync() error { return nil }
