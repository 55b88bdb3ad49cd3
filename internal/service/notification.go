package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"harpans/site/internal/domain"
	"harpans/site/internal/mailer"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/storage"
)

// DefaultBaseURL 未配置站点地址时使用
const DefaultBaseURL = "https://harpans.se"

// ErrMarkerNotRecorded 邮件已发出但标记写入失败
var ErrMarkerNotRecorded = errors.New("notification sent but marker not recorded")

// DispatchStatus 通知处理结果
type DispatchStatus string

const (
	DispatchSent          DispatchStatus = "sent"
	DispatchNotBlogPost   DispatchStatus = "skipped_not_blog_post"
	DispatchDisabled      DispatchStatus = "skipped_disabled"
	DispatchAlreadySent   DispatchStatus = "already_sent"
	DispatchNoSubscribers DispatchStatus = "no_subscribers"
	DispatchInProgress    DispatchStatus = "in_progress"
	DispatchFailed        DispatchStatus = "failed"
)

// DispatchReport 一次发布事件的处理报告
type DispatchReport struct {
	PostID           string         `json:"postId"`
	Status           DispatchStatus `json:"status"`
	Recipients       int            `json:"recipients"`
	Sent             int            `json:"sent"`
	Failed           int            `json:"failed"`
	FailedRecipients []string       `json:"failedRecipients,omitempty"`
	MarkerCreated    bool           `json:"markerCreated"`
}

// NotificationConfig 通知服务配置
type NotificationConfig struct {
	From     string
	BaseURL  string
	ClaimTTL time.Duration // 跨进程占位键有效期
}

// NotificationDispatcher 在博客文章发布时给有效订阅者发送一次性通知
//
// 同一进程内对同一文章的并发调用合并为一次；跨进程由占位键保护，
// 标记表的唯一索引是最后一道防线。
type NotificationDispatcher struct {
	subscribers storage.SubscriberRepository
	markers     storage.MarkerRepository
	claims      storage.ClaimStore
	transport   mailer.Transport
	templates   *TemplateRenderer
	cfg         NotificationConfig
	log         *zap.Logger
	metrics     *monitoring.Metrics
	group       singleflight.Group
	now         func() time.Time
}

// NewNotificationDispatcher 创建通知服务，claims 可以为 nil
func NewNotificationDispatcher(
	subscribers storage.SubscriberRepository,
	markers storage.MarkerRepository,
	claims storage.ClaimStore,
	transport mailer.Transport,
	templates *TemplateRenderer,
	cfg NotificationConfig,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *NotificationDispatcher {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &NotificationDispatcher{
		subscribers: subscribers,
		markers:     markers,
		claims:      claims,
		transport:   transport,
		templates:   templates,
		cfg:         cfg,
		log:         log.Named("notify"),
		metrics:     metrics,
		now:         time.Now,
	}
}

// OnContentPublished 处理 CMS 的发布事件
func (d *NotificationDispatcher) OnContentPublished(ctx context.Context, item domain.ContentItem) (*DispatchReport, error) {
	postID := string(item.ID)
	if item.Type != domain.ContentTypeBlogPost {
		return &DispatchReport{PostID: postID, Status: DispatchNotBlogPost}, nil
	}
	if !item.SendNotification {
		return &DispatchReport{PostID: postID, Status: DispatchDisabled}, nil
	}

	v, err, _ := d.group.Do(postID, func() (any, error) {
		return d.dispatch(ctx, item)
	})
	report, _ := v.(*DispatchReport)
	return report, err
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, item domain.ContentItem) (*DispatchReport, error) {
	postID := string(item.ID)
	report := &DispatchReport{PostID: postID}
	log := d.log.With(zap.String("post_id", postID))

	exists, err := d.markers.MarkerExists(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("check marker: %w", err)
	}
	if exists {
		report.Status = DispatchAlreadySent
		return report, nil
	}

	// 已发送但标记未写入时保留占位键，直到过期前的重试都视为进行中
	var keepClaim bool
	if d.claims != nil {
		claimKey := "notify:claim:" + postID
		ok, err := d.claims.Claim(ctx, claimKey, d.cfg.ClaimTTL)
		if err != nil {
			// 占位键仅是优化，标记的唯一索引仍然兜底
			log.Warn("notification claim failed, continuing", zap.Error(err))
		} else if !ok {
			report.Status = DispatchInProgress
			return report, nil
		} else {
			defer func() {
				if keepClaim {
					return
				}
				if err := d.claims.Release(context.WithoutCancel(ctx), claimKey); err != nil {
					log.Warn("release notification claim failed", zap.Error(err))
				}
			}()
			// 其他进程可能在首次检查之后刚完成发送
			exists, err := d.markers.MarkerExists(ctx, postID)
			if err != nil {
				return nil, fmt.Errorf("check marker: %w", err)
			}
			if exists {
				report.Status = DispatchAlreadySent
				return report, nil
			}
		}
	}

	subs, err := d.subscribers.ListActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	if len(subs) == 0 {
		report.Status = DispatchNoSubscribers
		return report, nil
	}

	postURL, rootURL := d.resolveURLs(item)
	msgs := make([]mailer.Message, 0, len(subs))
	for _, sub := range subs {
		body, err := d.templates.Render(TemplateNewPost, map[string]any{
			"post": map[string]any{
				"title": item.Title,
				"intro": item.Intro,
			},
			"post_url":        postURL,
			"unsubscribe_url": UnsubscribeURL(rootURL, sub.UnsubscribeToken),
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, mailer.Message{
			From:    d.cfg.From,
			To:      []string{sub.Email},
			Subject: "Nytt inlägg: " + item.Title,
			Body:    body,
		})
	}
	report.Recipients = len(msgs)

	start := d.now()
	res, err := d.transport.SendBatch(ctx, msgs)
	if res != nil {
		report.Sent = res.Sent
		report.Failed = len(res.Failed)
		for _, f := range res.Failed {
			report.FailedRecipients = append(report.FailedRecipients, f.To)
		}
	}
	if err != nil {
		report.Status = DispatchFailed
		log.Error("notification batch failed",
			zap.String("transport", d.transport.Name()),
			zap.Int("recipients", report.Recipients),
			zap.Int("sent_before_failure", report.Sent),
			zap.Error(err),
		)
		d.metrics.RecordNotificationBatch(string(DispatchFailed), report.Sent, report.Failed, d.now().Sub(start))
		return report, err
	}

	for _, f := range res.Failed {
		log.Warn("notification rejected for recipient", zap.String("to", f.To), zap.Error(f.Err))
	}
	d.metrics.RecordNotificationBatch(string(DispatchSent), report.Sent, report.Failed, d.now().Sub(start))

	// 发送完成后才写入标记
	marker := &domain.PublishNotificationMarker{
		ID:         uuid.NewString(),
		PostID:     postID,
		PostTitle:  item.Title,
		Recipients: report.Recipients,
		Failed:     report.Failed,
		SentAt:     d.now().UTC(),
	}
	report.Status = DispatchSent
	switch err := d.markers.CreateMarker(context.WithoutCancel(ctx), marker); {
	case err == nil:
		report.MarkerCreated = true
	case errors.Is(err, storage.ErrDuplicate):
		log.Info("notification marker already recorded")
	default:
		log.Error("record notification marker failed", zap.Error(err))
		keepClaim = true
		return report, fmt.Errorf("%w: %w", ErrMarkerNotRecorded, err)
	}

	log.Info("notification sent",
		zap.Int("recipients", report.Recipients),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// resolveURLs 计算文章地址与退订链接的根地址
func (d *NotificationDispatcher) resolveURLs(item domain.ContentItem) (postURL, rootURL string) {
	if u, err := url.Parse(item.URL); err == nil && u.IsAbs() && u.Host != "" {
		return item.URL, u.Scheme + "://" + u.Host
	}

	root := d.cfg.BaseURL
	if item.RootURL != "" {
		root = strings.TrimRight(item.RootURL, "/")
	}

	path := item.URL
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return root + path, root
}

// UnsubscribeURL 退订链接
func UnsubscribeURL(rootURL, token string) string {
	return strings.TrimRight(rootURL, "/") + "/blogg/avregistrera/" + token + "/"
}
