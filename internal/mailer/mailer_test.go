package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"harpans/site/internal/config"
)

func TestMessage_Bytes(t *testing.T) {
	msg := Message{
		From:    "noreply@harpans.se",
		To:      []string{"anna@example.se"},
		ReplyTo: "anna@example.se",
		Subject: "Ny kontaktförfrågan från Åsa",
		Body:    "Rad ett\nRad två",
	}
	raw := msg.Bytes(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "noreply@harpans.se", parsed.Header.Get("From"))
	assert.Equal(t, "anna@example.se", parsed.Header.Get("Reply-To"))
	assert.True(t, strings.HasPrefix(parsed.Header.Get("Subject"), "=?utf-8?q?"))
	assert.Contains(t, parsed.Header.Get("Message-ID"), "@harpans.se>")
	assert.Equal(t, "quoted-printable", parsed.Header.Get("Content-Transfer-Encoding"))
	assert.Contains(t, string(raw), "Rad ett\r\nRad tv=C3=A5")

	date, err := parsed.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "harpans.se", domainOf("noreply@harpans.se"))
	assert.Equal(t, "harpans.se", domainOf("<noreply@harpans.se>"))
	assert.Equal(t, "localhost", domainOf("noreply"))
}

func TestConsoleTransport(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tr := NewConsoleTransport(zap.New(core))

	res, err := tr.SendBatch(context.Background(), []Message{
		{From: "noreply@harpans.se", To: []string{"anna@example.se"}, Subject: "Hej", Body: "Text"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Hej", logs.All()[0].ContextMap()["subject"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.SendBatch(ctx, []Message{{Subject: "x"}})
	assert.ErrorIs(t, err, ErrTransport)
}

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func toAddress(addr string) any {
	return mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return len(in.Destination.ToAddresses) == 1 && in.Destination.ToAddresses[0] == addr
	})
}

func TestSESTransport_SendBatch(t *testing.T) {
	msgs := []Message{
		{From: "noreply@harpans.se", To: []string{"anna@example.se"}, Subject: "a", Body: "a"},
		{From: "noreply@harpans.se", To: []string{"bad@example.se"}, Subject: "b", Body: "b"},
		{From: "noreply@harpans.se", To: []string{"erik@example.se"}, Subject: "c", Body: "c"},
	}

	t.Run("单封被拒绝", func(t *testing.T) {
		api := &mockSES{}
		api.On("SendEmail", mock.Anything, toAddress("anna@example.se")).Return(&sesv2.SendEmailOutput{}, nil)
		api.On("SendEmail", mock.Anything, toAddress("bad@example.se")).Return(nil, &types.MessageRejected{Message: strPtr("Email address is not verified")})
		api.On("SendEmail", mock.Anything, toAddress("erik@example.se")).Return(&sesv2.SendEmailOutput{}, nil)

		tr := &SESTransport{client: api}
		res, err := tr.SendBatch(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Sent)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, "bad@example.se", res.Failed[0].To)
		api.AssertExpectations(t)
	})

	t.Run("账户级错误中止", func(t *testing.T) {
		api := &mockSES{}
		api.On("SendEmail", mock.Anything, mock.Anything).Return(nil, &types.SendingPausedException{}).Once()

		tr := &SESTransport{client: api}
		res, err := tr.SendBatch(context.Background(), msgs)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Zero(t, res.Sent)
		api.AssertNumberOfCalls(t, "SendEmail", 1)
	})
}

func TestSESTransport_Concurrent(t *testing.T) {
	msgs := make([]Message, 20)
	for i := range msgs {
		msgs[i] = Message{From: "noreply@harpans.se", To: []string{fmt.Sprintf("user%d@example.se", i)}, Subject: "s", Body: "b"}
	}

	api := &mockSES{}
	api.On("SendEmail", mock.Anything, toAddress("user7@example.se")).Return(nil, &types.MessageRejected{Message: strPtr("rejected")})
	api.On("SendEmail", mock.Anything, mock.Anything).Return(&sesv2.SendEmailOutput{}, nil)

	tr := &SESTransport{client: api, workers: 4}
	res, err := tr.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, 19, res.Sent)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "user7@example.se", res.Failed[0].To)
	api.AssertNumberOfCalls(t, "SendEmail", 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.SendBatch(ctx, msgs)
	assert.ErrorIs(t, err, ErrTransport)
}

// stalledSES 一直阻塞到 ctx 结束
type stalledSES struct{}

func (stalledSES) SendEmail(ctx context.Context, _ *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSESTransport_Timeout(t *testing.T) {
	tr := &SESTransport{client: stalledSES{}, workers: 2, timeout: 100 * time.Millisecond}
	msgs := []Message{
		{From: "noreply@harpans.se", To: []string{"anna@example.se"}},
		{From: "noreply@harpans.se", To: []string{"erik@example.se"}},
	}

	start := time.Now()
	res, err := tr.SendBatch(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, res.Sent)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSend_ReturnsRecipientFailure(t *testing.T) {
	api := &mockSES{}
	api.On("SendEmail", mock.Anything, mock.Anything).Return(nil, &types.BadRequestException{})

	err := Send(context.Background(), &SESTransport{client: api}, Message{To: []string{"x@example.se"}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "x@example.se")
}

func TestNew(t *testing.T) {
	log := zap.NewNop()

	tr, err := New(context.Background(), config.EmailConfig{Backend: "console"}, log)
	require.NoError(t, err)
	assert.Equal(t, "console", tr.Name())

	tr, err = New(context.Background(), config.EmailConfig{Backend: "smtp", SMTP: config.SMTPConfig{Host: "smtp.example.se", Port: 587}}, log)
	require.NoError(t, err)
	assert.Equal(t, "smtp", tr.Name())
	assert.Equal(t, defaultSMTPTimeout, tr.(*SMTPTransport).timeout)

	_, err = New(context.Background(), config.EmailConfig{Backend: "fax"}, log)
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }
