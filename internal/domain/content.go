package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// ContentTypeBlogPost 博客文章类型，只有该类型会触发订阅通知
const ContentTypeBlogPost = "blog_post"

// ContentID 内容条目 ID，CMS 可能以数字或字符串形式发送
type ContentID string

// UnmarshalJSON 同时接受 JSON 数字与字符串
func (id *ContentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ContentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ContentID(n.String())
	return nil
}

// ContentItem CMS 发布事件中携带的内容条目
type ContentItem struct {
	ID               ContentID  `json:"id"`
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`      // 绝对或相对路径
	RootURL          string     `json:"root_url"` // 可选，站点根地址
	Intro            string     `json:"intro"`
	SendNotification bool       `json:"send_notification"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
}

// FeedItem 归一化后的外部 RSS 条目
type FeedItem struct {
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Published *time.Time `json:"published,omitempty"`
	Summary   string     `json:"summary"`
}

// FeedSection 资讯页的一个栏目
type FeedSection struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
	Limit int    `json:"limit" yaml:"limit"`
	Note  string `json:"note,omitempty" yaml:"note"`
}

// FeedSectionItems 栏目及其条目，供页面渲染
type FeedSectionItems struct {
	Title string
	Note  string
	Items []FeedItem
}

// SourcedFeedItem 带来源栏目名的条目（"最新" 列表）
type SourcedFeedItem struct {
	FeedItem
	Source string
}

// InstagramPost Instagram 图文
type InstagramPost struct {
	ID        string `json:"id"`
	Caption   string `json:"caption,omitempty"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
}
