package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/mailer"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/storage"
)

var (
	// ErrCallbackInvalid 回电请求缺少姓名或电话
	ErrCallbackInvalid = errors.New("name and phone are required")
	// ErrDelivery 邮件未能送达事务所
	ErrDelivery = errors.New("could not deliver email")
)

// 瑞典时区，用于邮件中显示的提交时间
var stockholm = loadLocation("Europe/Stockholm")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IntakeConfig 表单处理配置
type IntakeConfig struct {
	From      string // 发件地址
	Recipient string // 事务所收件地址，留空时使用 From
	Contact   config.LimitRule
	Callback  config.LimitRule
}

func (c IntakeConfig) recipient() string {
	if c.Recipient != "" {
		return c.Recipient
	}
	return c.From
}

// ContactResult 联系表单处理结果
type ContactResult struct {
	Throttled  bool
	Errors     domain.FieldErrors
	Submission *domain.ContactSubmission
}

// IntakeService 处理联系表单与回电请求
type IntakeService struct {
	submissions    storage.SubmissionRepository
	durableLimiter RateLimiter
	counterLimiter RateLimiter
	transport      mailer.Transport
	templates      *TemplateRenderer
	cfg            IntakeConfig
	log            *zap.Logger
	metrics        *monitoring.Metrics
	now            func() time.Time
}

// NewIntakeService 创建表单服务
func NewIntakeService(
	submissions storage.SubmissionRepository,
	durableLimiter RateLimiter,
	counterLimiter RateLimiter,
	transport mailer.Transport,
	templates *TemplateRenderer,
	cfg IntakeConfig,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *IntakeService {
	return &IntakeService{
		submissions:    submissions,
		durableLimiter: durableLimiter,
		counterLimiter: counterLimiter,
		transport:      transport,
		templates:      templates,
		cfg:            cfg,
		log:            log.Named("intake"),
		metrics:        metrics,
		now:            time.Now,
	}
}

// SubmitContact 处理联系表单
//
// 顺序：限流（按已保存的提交计数）→ 校验 → 保存 → 通知事务所。
// 邮件发送失败只记录日志，访客仍然看到成功。
func (s *IntakeService) SubmitContact(ctx context.Context, form domain.ContactForm, clientAddress string) (*ContactResult, error) {
	rule := s.cfg.Contact
	if !s.durableLimiter.CheckAndIncrement(ctx, PurposeContact, clientAddress, rule.MaxAttempts, rule.Window) {
		s.metrics.RecordSubmission(PurposeContact, "throttled")
		return &ContactResult{Throttled: true}, nil
	}

	form.Normalize()
	if errs := form.Validate(); !errs.Empty() {
		s.metrics.RecordSubmission(PurposeContact, "invalid")
		return &ContactResult{Errors: errs}, nil
	}

	sub := &domain.ContactSubmission{
		ID:            uuid.NewString(),
		Name:          form.Name,
		Email:         form.Email,
		Phone:         form.Phone,
		OrgNumber:     form.OrgNumber,
		Subject:       form.Subject,
		Message:       form.Message,
		Consent:       true,
		SubmittedAt:   s.now().UTC(),
		ClientAddress: clientAddress,
	}
	if err := s.submissions.SaveSubmission(ctx, sub); err != nil {
		s.metrics.RecordError("store", PurposeContact)
		return nil, fmt.Errorf("save submission: %w", err)
	}
	s.metrics.RecordSubmission(PurposeContact, "saved")

	if err := s.notifyContact(ctx, sub); err != nil {
		s.log.Error("contact email failed",
			zap.String("submission_id", sub.ID),
			zap.Error(err),
		)
		s.metrics.RecordError("email", PurposeContact)
	}

	return &ContactResult{Submission: sub}, nil
}

func (s *IntakeService) notifyContact(ctx context.Context, sub *domain.ContactSubmission) error {
	body, err := s.templates.Render(TemplateContact, map[string]any{
		"name":           sub.Name,
		"org_number":     sub.OrgNumber,
		"email":          sub.Email,
		"phone":          sub.Phone,
		"subject":        sub.Subject,
		"message":        sub.Message,
		"submitted_at":   sub.SubmittedAt.In(stockholm).Format("2006-01-02 15:04"),
		"client_address": sub.ClientAddress,
	})
	if err != nil {
		return err
	}
	return mailer.Send(ctx, s.transport, mailer.Message{
		From:    s.cfg.From,
		To:      []string{s.cfg.recipient()},
		ReplyTo: sub.Email,
		Subject: "Ny kontaktförfrågan från " + sub.Name,
		Body:    body,
	})
}

// RequestCallback 处理回电请求
//
// 顺序：限流（计数器，本次尝试计入）→ 校验 → 发送邮件。回电请求不保存，
// 因此邮件发送失败时返回 ErrDelivery。返回值 throttled 为 true 时调用方应显示成功。
func (s *IntakeService) RequestCallback(ctx context.Context, req domain.CallbackRequest, clientAddress string) (throttled bool, err error) {
	rule := s.cfg.Callback
	if !s.counterLimiter.CheckAndIncrement(ctx, PurposeCallback, clientAddress, rule.MaxAttempts, rule.Window) {
		s.metrics.RecordSubmission(PurposeCallback, "throttled")
		return true, nil
	}

	req.Normalize()
	if !req.Valid() {
		s.metrics.RecordSubmission(PurposeCallback, "invalid")
		return false, ErrCallbackInvalid
	}

	body, err := s.templates.Render(TemplateCallback, map[string]any{
		"name":            req.Name,
		"phone":           req.Phone,
		"email":           req.Email,
		"preferred_time":  req.PreferredTime,
		"preferred_label": domain.PreferredTimeLabel(req.PreferredTime),
		"message":         req.Message,
		"client_address":  clientAddress,
	})
	if err != nil {
		return false, err
	}

	msg := mailer.Message{
		From:    s.cfg.From,
		To:      []string{s.cfg.recipient()},
		Subject: "Uppringningsförfrågan från " + req.Name,
		Body:    body,
	}
	if req.Email != "" {
		msg.ReplyTo = req.Email
	}

	if err := mailer.Send(ctx, s.transport, msg); err != nil {
		s.log.Error("callback email failed", zap.Error(err))
		s.metrics.RecordError("email", PurposeCallback)
		return false, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	s.metrics.RecordSubmission(PurposeCallback, "sent")
	return false, nil
}

// ListSubmissions 管理接口：最近的联系表单
func (s *IntakeService) ListSubmissions(ctx context.Context, limit int) ([]domain.ContactSubmission, error) {
	return s.submissions.ListSubmissions(ctx, limit)
}
