package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// insecureSecretKey 开发环境默认密钥，生产环境禁止使用
const insecureSecretKey = "django-insecure-change-this"

// DefaultFeedHosts 默认允许抓取 RSS 的主机
var DefaultFeedHosts = []string{"skatteverket.se", "www.skatteverket.se", "www7.skatteverket.se", "www4.skatteverket.se"}

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8000
}

// SiteConfig 定义站点级别的公开配置
type SiteConfig struct {
	SecretKey      string   // 签名密钥，用于内部钩子和管理接口的 JWT
	Debug          bool     // 调试模式
	AllowedHosts   []string // 允许的主机名
	BaseURL        string   // 站点公开访问地址，例如 https://harpans.se
	ContactEmail   string   // 接收联系表单的事务所邮箱，留空时使用发件地址
	TemplateDir    string   // HTML 模板目录，留空时使用内置模板
	HoneypotField  string   // 蜜罐字段名
	TrustedProxies []string // 可信反向代理
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level   string // 日志级别: debug, info, warn, error
	LogFile string // 日志文件路径，留空仅输出到标准输出
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 10
	MaxIdleConns    int           // 最大空闲连接数，默认 2
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 10 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，留空时使用进程内缓存
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// SMTPConfig 定义发信 SMTP 服务器参数
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	UseTLS   bool          // 是否使用 STARTTLS
	Timeout  time.Duration // 单批次发送（含建连）的总超时
}

// EmailConfig 定义邮件发送配置
type EmailConfig struct {
	Backend     string // console | smtp | ses
	DefaultFrom string // 默认发件地址
	SMTP        SMTPConfig

	SESRegion      string        // SES 区域
	SESConcurrency int           // SES 并发请求数
	SESTimeout     time.Duration // 单批次发送的总超时

	// SES 静态凭证，留空时使用 AWS 默认凭证链
	SESAccessKey string
	SESSecretKey string
}

// FeedConfig 定义外部 RSS 代理配置
type FeedConfig struct {
	AllowedHosts []string      // 允许抓取的主机
	Timeout      time.Duration // 单次抓取超时
	CacheTTL     time.Duration // 正常缓存时长
	ErrorTTL     time.Duration // 抓取失败时的短缓存时长
	SummaryLimit int           // 摘要截断长度（字符）
	UserAgent    string
	SectionsFile string // Aktuellt 页面的栏目配置（YAML）
}

// InstagramConfig 定义 Instagram 动态代理配置
type InstagramConfig struct {
	AccessToken string        // 访问令牌，留空即关闭该功能
	Limit       int           // 拉取条数
	CacheTTL    time.Duration // 缓存时长
	Timeout     time.Duration
}

// LimitRule 单个表单的限流规则
type LimitRule struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig 定义各表单的限流规则
type RateLimitConfig struct {
	Contact   LimitRule // 联系表单（持久化计数）
	Callback  LimitRule // 回电请求（临时计数器）
	Subscribe LimitRule // 博客订阅（临时计数器）
	// 公共接口突发限速（令牌桶）
	BurstRPS float64
	Burst    int
}

// AuthConfig 定义内部钩子与管理接口的令牌配置
type AuthConfig struct {
	Issuer   string
	TokenTTL time.Duration
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Site      SiteConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Email     EmailConfig
	Feed      FeedConfig
	Instagram InstagramConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	CORS      CORSConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: HARPANS_
// 例如: HARPANS_SITE_SECRET_KEY, HARPANS_EMAIL_SMTP_HOST
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("harpans")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	debug := v.GetBool("site.debug")
	secretKey := v.GetString("site.secret_key")
	if !debug && secretKey == insecureSecretKey {
		return nil, fmt.Errorf("SECURITY ERROR: site.secret_key cannot be the default value when debug is off. Please set HARPANS_SITE_SECRET_KEY")
	}
	if !debug && len(secretKey) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: site.secret_key must be at least 32 characters long")
	}

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"database.conn_max_lifetime",
		"email.smtp.timeout",
		"email.ses_timeout",
		"feed.timeout",
		"feed.cache_ttl",
		"feed.error_ttl",
		"instagram.cache_ttl",
		"instagram.timeout",
		"ratelimit.contact.window",
		"ratelimit.callback.window",
		"ratelimit.subscribe.window",
		"auth.token_ttl",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("email.backend")))
	switch backend {
	case "console", "smtp", "ses":
	default:
		return nil, fmt.Errorf("unsupported email.backend: %s (supported: console, smtp, ses)", backend)
	}

	feedHosts := parseHosts(v.GetString("feed.allowed_hosts"))
	if len(feedHosts) == 0 {
		return nil, fmt.Errorf("feed.allowed_hosts must not be empty")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Site: SiteConfig{
			SecretKey:      secretKey,
			Debug:          debug,
			AllowedHosts:   parseHosts(v.GetString("site.allowed_hosts")),
			BaseURL:        strings.TrimRight(v.GetString("site.base_url"), "/"),
			ContactEmail:   v.GetString("site.contact_email"),
			TemplateDir:    v.GetString("site.template_dir"),
			HoneypotField:  v.GetString("site.honeypot_field"),
			TrustedProxies: parseList(v.GetString("site.trusted_proxies")),
		},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			LogFile: v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Email: EmailConfig{
			Backend:     backend,
			DefaultFrom: v.GetString("email.default_from"),
			SMTP: SMTPConfig{
				Host:     v.GetString("email.smtp.host"),
				Port:     v.GetInt("email.smtp.port"),
				User:     v.GetString("email.smtp.user"),
				Password: v.GetString("email.smtp.password"),
				UseTLS:   v.GetBool("email.smtp.use_tls"),
				Timeout:  durations["email.smtp.timeout"],
			},
			SESRegion:      v.GetString("email.ses_region"),
			SESConcurrency: v.GetInt("email.ses_concurrency"),
			SESTimeout:     durations["email.ses_timeout"],
			SESAccessKey:   v.GetString("email.ses_access_key"),
			SESSecretKey:   v.GetString("email.ses_secret_key"),
		},
		Feed: FeedConfig{
			AllowedHosts: feedHosts,
			Timeout:      durations["feed.timeout"],
			CacheTTL:     durations["feed.cache_ttl"],
			ErrorTTL:     durations["feed.error_ttl"],
			SummaryLimit: v.GetInt("feed.summary_limit"),
			UserAgent:    v.GetString("feed.user_agent"),
			SectionsFile: v.GetString("feed.sections_file"),
		},
		Instagram: InstagramConfig{
			AccessToken: v.GetString("instagram.access_token"),
			Limit:       v.GetInt("instagram.limit"),
			CacheTTL:    durations["instagram.cache_ttl"],
			Timeout:     durations["instagram.timeout"],
		},
		RateLimit: RateLimitConfig{
			Contact: LimitRule{
				MaxAttempts: v.GetInt("ratelimit.contact.max_attempts"),
				Window:      durations["ratelimit.contact.window"],
			},
			Callback: LimitRule{
				MaxAttempts: v.GetInt("ratelimit.callback.max_attempts"),
				Window:      durations["ratelimit.callback.window"],
			},
			Subscribe: LimitRule{
				MaxAttempts: v.GetInt("ratelimit.subscribe.max_attempts"),
				Window:      durations["ratelimit.subscribe.window"],
			},
			BurstRPS: v.GetFloat64("ratelimit.burst_rps"),
			Burst:    v.GetInt("ratelimit.burst"),
		},
		Auth: AuthConfig{
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: durations["auth.token_ttl"],
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
	}

	if cfg.Site.BaseURL == "" {
		cfg.Site.BaseURL = "https://harpans.se"
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("site.secret_key", insecureSecretKey)
	v.SetDefault("site.debug", false)
	v.SetDefault("site.allowed_hosts", "127.0.0.1,localhost,[::1]")
	v.SetDefault("site.base_url", "http://localhost:8000")
	v.SetDefault("site.contact_email", "")
	v.SetDefault("site.template_dir", "")
	v.SetDefault("site.honeypot_field", "website")
	v.SetDefault("site.trusted_proxies", "127.0.0.1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "10m")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("email.backend", "console")
	v.SetDefault("email.default_from", "noreply@harpans.se")
	v.SetDefault("email.smtp.host", "smtp.gmail.com")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.user", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "30s")
	v.SetDefault("email.ses_region", "eu-north-1")
	v.SetDefault("email.ses_access_key", "")
	v.SetDefault("email.ses_secret_key", "")
	v.SetDefault("email.ses_concurrency", 4)
	v.SetDefault("email.ses_timeout", "30s")
	v.SetDefault("feed.allowed_hosts", strings.Join(DefaultFeedHosts, ","))
	v.SetDefault("feed.timeout", "6s")
	v.SetDefault("feed.cache_ttl", "30m")
	v.SetDefault("feed.error_ttl", "5m")
	v.SetDefault("feed.summary_limit", 180)
	v.SetDefault("feed.user_agent", "HarpansRedovisning/1.0 (+https://harpans.se)")
	v.SetDefault("feed.sections_file", "")
	v.SetDefault("instagram.access_token", "")
	v.SetDefault("instagram.limit", 6)
	v.SetDefault("instagram.cache_ttl", "1h")
	v.SetDefault("instagram.timeout", "10s")
	v.SetDefault("ratelimit.contact.max_attempts", 2)
	v.SetDefault("ratelimit.contact.window", "30m")
	v.SetDefault("ratelimit.callback.max_attempts", 2)
	v.SetDefault("ratelimit.callback.window", "45m")
	v.SetDefault("ratelimit.subscribe.max_attempts", 5)
	v.SetDefault("ratelimit.subscribe.window", "60m")
	v.SetDefault("ratelimit.burst_rps", 1.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("auth.issuer", "harpans")
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("cors.allowed_origins", "*")
}

// parseHosts 将逗号分隔的主机名解析为小写数组
func parseHosts(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
