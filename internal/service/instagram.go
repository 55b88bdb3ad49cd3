package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/storage"
)

// DefaultInstagramEndpoint Instagram Graph API 媒体列表
const DefaultInstagramEndpoint = "https://graph.instagram.com/me/media"

const instagramFields = "id,caption,media_type,media_url,permalink,timestamp"

// InstagramProxy 代理 Instagram 媒体列表
type InstagramProxy struct {
	cache    storage.CacheStore
	client   *http.Client
	endpoint string
	cfg      config.InstagramConfig
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewInstagramProxy 创建代理；未配置令牌时始终返回空列表
func NewInstagramProxy(cache storage.CacheStore, cfg config.InstagramConfig, log *zap.Logger, metrics *monitoring.Metrics) *InstagramProxy {
	if cfg.Limit <= 0 {
		cfg.Limit = 6
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &InstagramProxy{
		cache:    cache,
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: DefaultInstagramEndpoint,
		cfg:      cfg,
		log:      log.Named("instagram"),
		metrics:  metrics,
	}
}

func (p *InstagramProxy) cacheKey() string {
	token := p.cfg.AccessToken
	if len(token) > 10 {
		token = token[:10]
	}
	return "instagram_feed_" + token
}

// Posts 返回最近的媒体，任何错误都返回空列表
func (p *InstagramProxy) Posts(ctx context.Context) []domain.InstagramPost {
	if p.cfg.AccessToken == "" {
		return []domain.InstagramPost{}
	}

	key := p.cacheKey()
	var cached []domain.InstagramPost
	found, err := p.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		p.log.Warn("instagram cache read failed", zap.Error(err))
	}
	// 空结果不缓存
	if found && len(cached) > 0 {
		p.metrics.RecordFeedCache("instagram", true)
		return cached
	}
	p.metrics.RecordFeedCache("instagram", false)

	posts, err := p.fetch(ctx)
	if err != nil {
		p.log.Error("instagram api error", zap.Error(err))
		p.metrics.RecordFeedFetch("instagram", "error")
		return []domain.InstagramPost{}
	}
	p.metrics.RecordFeedFetch("instagram", "ok")

	if len(posts) > 0 {
		if err := p.cache.SetJSON(ctx, key, posts, p.cfg.CacheTTL); err != nil {
			p.log.Warn("instagram cache write failed", zap.Error(err))
		}
	}
	return posts
}

func (p *InstagramProxy) fetch(ctx context.Context) ([]domain.InstagramPost, error) {
	q := url.Values{}
	q.Set("fields", instagramFields)
	q.Set("access_token", p.cfg.AccessToken)
	q.Set("limit", strconv.Itoa(p.cfg.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// url.Error 会带上含令牌的完整地址
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("%s %s: %w", uerr.Op, p.endpoint, uerr.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data []domain.InstagramPost `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Data == nil {
		body.Data = []domain.InstagramPost{}
	}
	return body.Data, nil
}
