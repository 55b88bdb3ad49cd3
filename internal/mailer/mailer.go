// Package mailer 负责出站邮件：组装纯文本消息并通过 SMTP、SES 或控制台发送。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"harpans/site/internal/config"
)

// ErrTransport 发送会话在完成整批之前中断
var ErrTransport = errors.New("mail transport failure")

// Message 一封纯文本邮件
type Message struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// Failure 单个收件人发送失败
type Failure struct {
	To  string
	Err error
}

// BatchResult 整批发送结果
type BatchResult struct {
	Sent   int
	Failed []Failure
}

// Transport 邮件传输
//
// SendBatch 在一个会话内发送全部消息。服务器拒绝单个收件人时记录在 Failed 中并继续；
// 会话本身失败（连接、认证、超时）时返回包装了 ErrTransport 的错误。
type Transport interface {
	SendBatch(ctx context.Context, msgs []Message) (*BatchResult, error)
	Name() string
}

// Send 发送单封邮件，任何失败都作为错误返回
func Send(ctx context.Context, t Transport, msg Message) error {
	res, err := t.SendBatch(ctx, []Message{msg})
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("send to %s: %w", res.Failed[0].To, res.Failed[0].Err)
	}
	return nil
}

// New 根据配置创建传输
func New(ctx context.Context, cfg config.EmailConfig, log *zap.Logger) (Transport, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "console":
		return NewConsoleTransport(log), nil
	case "smtp":
		return NewSMTPTransport(cfg.SMTP), nil
	case "ses":
		return NewSESTransport(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported email backend: %s", cfg.Backend)
	}
}
