package mail

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/d60-Lab/microblog/config"
	"github.com/d60-Lab/microblog/pkg/logger"
)

// SMTPTransport 通过 SMTP 发送邮件
type SMTPTransport struct {
	dialer *gomail.Dialer
}

func NewSMTPTransport(cfg config.MailConfig) *SMTPTransport {
	d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		d.TLSConfig = &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}
	}
	return &SMTPTransport{dialer: d}
}

func (t *SMTPTransport) Send(_ context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	m := gomail.NewMessage()
	m.SetHeader("From", msg.Sender)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}
	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogTransport 未配置邮件服务器时只记录日志
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	logger.Info("mail not configured, message logged",
		zap.String("subject", msg.Subject),
		zap.Strings("to", msg.Recipients),
		zap.String("body", msg.TextBody))
	return nil
}

// NewTransport 按配置选择 SMTP 或日志输出
func NewTransport(cfg config.MailConfig) Transport {
	if cfg.Server == "" {
		return LogTransport{}
	}
	return NewSMTPTransport(cfg)
}
