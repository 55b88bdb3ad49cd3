package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/storage"
)

const (
	// DefaultFeedURL Skatteverket 的新闻 RSS
	DefaultFeedURL = "https://www.skatteverket.se/rss/nyheter.4.rss.xml"

	defaultSectionLimit = 12
	maxSectionLimit     = 50
	latestItemsLimit    = 9
	feedSource          = "skv"
)

// FeedProxy 抓取白名单内的外部 RSS 并缓存归一化结果
type FeedProxy struct {
	cache        storage.CacheStore
	client       *http.Client
	allowedHosts map[string]bool
	cfg          config.FeedConfig
	log          *zap.Logger
	metrics      *monitoring.Metrics
}

// NewFeedProxy 创建 RSS 代理
func NewFeedProxy(cache storage.CacheStore, cfg config.FeedConfig, log *zap.Logger, metrics *monitoring.Metrics) *FeedProxy {
	hosts := make(map[string]bool, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		hosts[strings.ToLower(h)] = true
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Minute
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = 180
	}

	return &FeedProxy{
		cache:        cache,
		client:       &http.Client{Timeout: cfg.Timeout},
		allowedHosts: hosts,
		cfg:          cfg,
		log:          log.Named("feed"),
		metrics:      metrics,
	}
}

// FeedCacheKey 缓存键：rss:skv:{sha256(url)}:{limit}
func FeedCacheKey(feedURL string, limit int) string {
	sum := sha256.Sum256([]byte(feedURL))
	return fmt.Sprintf("rss:skv:%s:%d", hex.EncodeToString(sum[:]), limit)
}

// Allowed 判断地址是否允许抓取
func (p *FeedProxy) Allowed(feedURL string) bool {
	u, err := url.Parse(feedURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return p.allowedHosts[strings.ToLower(u.Hostname())]
}

// GetFeedItems 返回最多 limit 条归一化条目
//
// 不在白名单内的地址直接返回空列表且不发起请求。抓取或解析失败时
// 缓存空结果（短 TTL）并返回空列表；每次调用最多请求一次，不重试。
func (p *FeedProxy) GetFeedItems(ctx context.Context, feedURL string, limit int) []domain.FeedItem {
	if !p.Allowed(feedURL) {
		p.log.Debug("feed url not allowed", zap.String("url", feedURL))
		return []domain.FeedItem{}
	}
	if limit <= 0 {
		return []domain.FeedItem{}
	}

	key := FeedCacheKey(feedURL, limit)
	var cached []domain.FeedItem
	found, err := p.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		p.log.Warn("feed cache read failed", zap.Error(err))
	}
	if found {
		p.metrics.RecordFeedCache(feedSource, true)
		if cached == nil {
			cached = []domain.FeedItem{}
		}
		return cached
	}
	p.metrics.RecordFeedCache(feedSource, false)

	items, err := p.fetch(ctx, feedURL, limit)
	if err != nil {
		p.log.Warn("feed fetch failed", zap.String("url", feedURL), zap.Error(err))
		p.metrics.RecordFeedFetch(feedSource, "error")
		p.store(ctx, key, []domain.FeedItem{}, p.cfg.ErrorTTL)
		return []domain.FeedItem{}
	}

	p.metrics.RecordFeedFetch(feedSource, "ok")
	p.store(ctx, key, items, p.cfg.CacheTTL)
	return items
}

func (p *FeedProxy) store(ctx context.Context, key string, items []domain.FeedItem, ttl time.Duration) {
	if err := p.cache.SetJSON(ctx, key, items, ttl); err != nil {
		p.log.Warn("feed cache write failed", zap.Error(err))
	}
}

func (p *FeedProxy) fetch(ctx context.Context, feedURL string, limit int) ([]domain.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	// gofeed.Parser 解析时有内部状态，每次请求新建
	parser := gofeed.NewParser()
	parser.Client = p.client
	parser.UserAgent = p.cfg.UserAgent

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.FeedItem, 0, limit)
	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		items = append(items, p.normalize(entry))
	}
	return items, nil
}

func (p *FeedProxy) normalize(entry *gofeed.Item) domain.FeedItem {
	item := domain.FeedItem{
		Title:   strings.TrimSpace(entry.Title),
		Link:    entry.Link,
		Summary: truncateRunes(stripTags(entry.Description), p.cfg.SummaryLimit),
	}
	switch {
	case entry.PublishedParsed != nil:
		t := entry.PublishedParsed.UTC()
		item.Published = &t
	case entry.UpdatedParsed != nil:
		t := entry.UpdatedParsed.UTC()
		item.Published = &t
	}
	return item
}

// stripTags 去掉 HTML 标记，只保留文本
func stripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Sections 依次抓取各栏目，返回栏目列表和合并后的最新条目
func (p *FeedProxy) Sections(ctx context.Context, sections []domain.FeedSection) ([]domain.FeedSectionItems, []domain.SourcedFeedItem) {
	out := make([]domain.FeedSectionItems, 0, len(sections))
	var latest []domain.SourcedFeedItem

	for _, sec := range sections {
		items := p.GetFeedItems(ctx, sec.URL, sec.Limit)
		title := sec.Title
		if title == "" {
			title = "Flöde"
		}
		for _, it := range items {
			if len(latest) < latestItemsLimit {
				latest = append(latest, domain.SourcedFeedItem{FeedItem: it, Source: title})
			}
		}
		out = append(out, domain.FeedSectionItems{Title: title, Note: sec.Note, Items: items})
	}
	return out, latest
}

type sectionsFile struct {
	Sections []domain.FeedSection `yaml:"sections"`
}

// DefaultFeedSections 未配置栏目文件时只显示 Skatteverket 新闻
func DefaultFeedSections() []domain.FeedSection {
	return []domain.FeedSection{{Title: "Skatteverket", URL: DefaultFeedURL, Limit: defaultSectionLimit}}
}

// LoadFeedSections 读取 YAML 栏目配置，path 为空时返回默认栏目
func LoadFeedSections(path string) ([]domain.FeedSection, error) {
	if path == "" {
		return DefaultFeedSections(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed sections: %w", err)
	}
	return ParseFeedSections(data)
}

// ParseFeedSections 解析栏目配置并补齐默认值
func ParseFeedSections(data []byte) ([]domain.FeedSection, error) {
	var file sectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feed sections: %w", err)
	}

	sections := make([]domain.FeedSection, 0, len(file.Sections))
	for i, sec := range file.Sections {
		if sec.URL == "" {
			return nil, fmt.Errorf("feed section %d: url is required", i)
		}
		if sec.Title == "" {
			sec.Title = "Skatteverket"
		}
		switch {
		case sec.Limit <= 0:
			sec.Limit = defaultSectionLimit
		case sec.Limit > maxSectionLimit:
			sec.Limit = maxSectionLimit
		}
		sections = append(sections, sec)
	}
	return sections, nil
}
