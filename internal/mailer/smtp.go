package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"harpans/site/internal/config"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport 通过单个 SMTP 连接发送整批邮件
type SMTPTransport struct {
	host     string
	port     int
	user     string
	password string
	useTLS   bool
	timeout  time.Duration

	// 测试中可替换
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewSMTPTransport 创建 SMTP 传输
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	return &SMTPTransport{
		host:      cfg.Host,
		port:      cfg.Port,
		user:      cfg.User,
		password:  cfg.Password,
		useTLS:    cfg.UseTLS,
		timeout:   timeout,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
	}
}

// Name 传输名称
func (t *SMTPTransport) Name() string { return "smtp" }

// SendBatch 建立一个连接，依次发送全部消息
//
// 超时覆盖建连与整批发送；ctx 的截止时间更早时以 ctx 为准。
func (t *SMTPTransport) SendBatch(ctx context.Context, msgs []Message) (*BatchResult, error) {
	res := &BatchResult{}
	if len(msgs) == 0 {
		return res, nil
	}

	deadline := t.now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// 截止时间一到即关闭连接，go-smtp 每条命令都会重设连接的读写期限
	batchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	client, err := t.dial(batchCtx, deadline)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrTransport, deadlineCause(batchCtx, deadline, err))
	}
	defer client.Close()

	if t.user != "" {
		if err := client.Auth(sasl.NewPlainClient("", t.user, t.password)); err != nil {
			return res, fmt.Errorf("%w: auth: %w", ErrTransport, deadlineCause(batchCtx, deadline, err))
		}
	}

	for _, msg := range msgs {
		if err := batchCtx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		err := t.sendOne(client, msg)
		if err == nil {
			res.Sent++
			continue
		}

		// 服务器明确拒绝：记录后继续；其余错误说明会话已不可用
		var smtpErr *gosmtp.SMTPError
		if !errors.As(err, &smtpErr) {
			return res, fmt.Errorf("%w: %w", ErrTransport, deadlineCause(batchCtx, deadline, err))
		}
		for _, to := range msg.To {
			res.Failed = append(res.Failed, Failure{To: to, Err: err})
		}
		if err := client.Reset(); err != nil {
			return res, fmt.Errorf("%w: reset: %w", ErrTransport, err)
		}
	}

	// 所有消息已被服务器接收，QUIT 失败不影响结果
	_ = client.Quit()
	return res, nil
}

// deadlineCause 连接因超时或取消被中断时，在错误中带上原因
func deadlineCause(ctx context.Context, deadline time.Time, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (t *SMTPTransport) dial(ctx context.Context, deadline time.Time) (*gosmtp.Client, error) {
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	dialer := &net.Dialer{Deadline: deadline}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	context.AfterFunc(ctx, func() { conn.Close() })

	var client *gosmtp.Client
	switch {
	case t.port == 465:
		// 隐式 TLS
		client = gosmtp.NewClient(tls.Client(conn, t.tlsConfig))
	case t.useTLS:
		client, err = gosmtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	default:
		client = gosmtp.NewClient(conn)
	}
	remaining := time.Until(deadline)
	client.CommandTimeout = remaining
	client.SubmissionTimeout = remaining
	return client, nil
}

func (t *SMTPTransport) sendOne(client *gosmtp.Client, msg Message) error {
	if err := client.Mail(msg.From, nil); err != nil {
		return err
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to, nil); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg.Bytes(t.now())); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
