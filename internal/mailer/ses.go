package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"harpans/site/internal/config"
	"harpans/site/internal/pool"
)

// sesAPI SES 客户端中用到的方法
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

const defaultSESTimeout = 30 * time.Second

// SESTransport 通过 Amazon SES v2 API 发送
type SESTransport struct {
	client  sesAPI
	workers int           // 并发请求数，0 表示逐封发送
	timeout time.Duration // 整批超时，0 表示仅受 ctx 约束
}

// NewSESTransport 加载 AWS 配置并创建 SES 传输
func NewSESTransport(ctx context.Context, cfg config.EmailConfig) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SESRegion),
	}
	if cfg.SESAccessKey != "" && cfg.SESSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	timeout := cfg.SESTimeout
	if timeout <= 0 {
		timeout = defaultSESTimeout
	}
	return &SESTransport{
		client:  sesv2.NewFromConfig(awsCfg),
		workers: cfg.SESConcurrency,
		timeout: timeout,
	}, nil
}

// Name 传输名称
func (t *SESTransport) Name() string { return "ses" }

// SendBatch 每封邮件一次 SendEmail 调用，由协程池限制并发
//
// 被拒绝的单封邮件记入 Failed；账户级错误（暂停发送、凭证无效等）中止整批。
func (t *SESTransport) SendBatch(ctx context.Context, msgs []Message) (*BatchResult, error) {
	res := &BatchResult{}
	if t.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, t.timeout)
		defer cancelTimeout()
	}
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		fatal error
	)
	workers := pool.NewWorkerPool(t.workers, len(msgs))
	workers.Start(batchCtx)
	for _, msg := range msgs {
		workers.TrySubmit(func(ctx context.Context) {
			_, err := t.client.SendEmail(ctx, sesInput(msg))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Sent++
			case isRecipientError(err):
				for _, to := range msg.To {
					res.Failed = append(res.Failed, Failure{To: to, Err: err})
				}
			case fatal == nil:
				fatal = err
				cancel()
			}
		})
	}
	workers.Stop()

	if fatal == nil {
		fatal = ctx.Err()
	}
	if fatal != nil {
		return res, fmt.Errorf("%w: %w", ErrTransport, fatal)
	}
	return res, nil
}

func sesInput(msg Message) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return input
}

func isRecipientError(err error) bool {
	var rejected *types.MessageRejected
	var badRequest *types.BadRequestException
	return errors.As(err, &rejected) || errors.As(err, &badRequest)
}
