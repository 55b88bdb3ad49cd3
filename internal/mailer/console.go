package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ConsoleTransport 把邮件写入日志，开发环境使用
type ConsoleTransport struct {
	log *zap.Logger
}

// NewConsoleTransport 创建控制台传输
func NewConsoleTransport(log *zap.Logger) *ConsoleTransport {
	return &ConsoleTransport{log: log.Named("mail")}
}

// Name 传输名称
func (t *ConsoleTransport) Name() string { return "console" }

// SendBatch 逐封记录日志
func (t *ConsoleTransport) SendBatch(ctx context.Context, msgs []Message) (*BatchResult, error) {
	res := &BatchResult{}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		t.log.Info("email",
			zap.String("from", msg.From),
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.Body),
		)
		res.Sent++
	}
	return res, nil
}
