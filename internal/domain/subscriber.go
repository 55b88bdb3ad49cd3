package domain

import (
	"strings"
	"time"
)

// Subscriber 博客订阅者
//
// 订阅者从不删除：退订只把 IsActive 置为 false，令牌创建后不再变化。
type Subscriber struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email            string    `json:"email" gorm:"type:varchar(254);uniqueIndex;not null"`
	CreatedAt        time.Time `json:"createdAt"`
	IsActive         bool      `json:"isActive" gorm:"not null;index"`
	UnsubscribeToken string    `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
}

// TableName 指定表名
func (Subscriber) TableName() string {
	return "blog_subscribers"
}

// PublishNotificationMarker 已发送通知的标记，每个内容条目至多一条
type PublishNotificationMarker struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID     string    `json:"postId" gorm:"type:varchar(64);uniqueIndex;not null"`
	PostTitle  string    `json:"postTitle" gorm:"type:varchar(255)"`
	Recipients int       `json:"recipients"`
	Failed     int       `json:"failed"`
	SentAt     time.Time `json:"sentAt"`
}

// TableName 指定表名
func (PublishNotificationMarker) TableName() string {
	return "blog_post_notifications"
}

// NormalizeEmail 统一邮箱格式：去空白并转小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
