package httptransport

import (
	"embed"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "harpans/site/internal/auth/jwt"
	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/health"
	"harpans/site/internal/middleware"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	intake        *service.IntakeService
	subscriptions *service.SubscriptionService
	notifications *service.NotificationDispatcher
	feeds         *service.FeedProxy
	feedSections  []domain.FeedSection
	instagram     *service.InstagramProxy
	health        *health.HealthChecker
	site          config.SiteConfig
	log           *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Intake        *service.IntakeService
	Subscriptions *service.SubscriptionService
	Notifications *service.NotificationDispatcher
	Feeds         *service.FeedProxy
	FeedSections  []domain.FeedSection
	Instagram     *service.InstagramProxy
	JWTManager    *jwtpkg.Manager
	Health        *health.HealthChecker
	Metrics       *monitoring.Metrics
	Throttle      *middleware.Throttle // 可选：表单接口的突发限速
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	cfg := deps.Config
	router := gin.New()

	if err := router.SetTrustedProxies(cfg.Site.TrustedProxies); err != nil {
		return nil, err
	}

	tmpl, err := parseTemplates(cfg.Site.TemplateDir)
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.AllowedHosts(cfg.Site.AllowedHosts))
	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders(cfg.Site.Debug))

	h := &Handler{
		intake:        deps.Intake,
		subscriptions: deps.Subscriptions,
		notifications: deps.Notifications,
		feeds:         deps.Feeds,
		feedSections:  deps.FeedSections,
		instagram:     deps.Instagram,
		health:        deps.Health,
		site:          cfg.Site,
		log:           deps.Logger.Named("handler"),
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)

	// 公开表单：请求体上限、蜜罐、按 IP 的突发限速
	// 蜜罐请求不占用限速额度；被限速时返回与成功相同形状的应答
	form := func(handler, trapped, limited gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{
			middleware.BodySizeLimit(middleware.FormBodyLimit),
			h.honeypotGuard(trapped),
		}
		if deps.Throttle != nil {
			chain = append(chain, deps.Throttle.Middleware(middleware.ClientAddress, limited))
		}
		return append(chain, handler)
	}

	// 健康检查与指标
	router.GET("/health", h.healthSummary)
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// ========== Public API ==========
	api := router.Group("/api")
	api.Use(gincors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	{
		api.POST("/contact/", form(h.submitContact, h.contactTrapped, h.contactThrottled)...)
		api.POST("/callback/", form(h.requestCallback, h.callbackTrapped, h.callbackThrottled)...)
		api.GET("/instagram/", h.instagramFeed)
	}

	// ========== Blog ==========
	blog := router.Group("/blogg")
	{
		blog.POST("/prenumerera/", form(h.subscribe, h.subscribeSoft, h.subscribeSoft)...)
		blog.GET("/avregistrera/:token/", h.unsubscribe)
	}

	router.GET("/aktuellt/", h.aktuellt)

	// ========== CMS hook ==========
	hooks := router.Group("/internal/hooks")
	hooks.Use(middleware.BodySizeLimit(middleware.HookBodyLimit), jwtAuth.RequireScope(jwtpkg.ScopeHook))
	{
		hooks.POST("/published", h.contentPublished)
	}

	// ========== Admin API ==========
	admin := router.Group("/admin/api")
	admin.Use(jwtAuth.RequireScope(jwtpkg.ScopeAdmin))
	{
		admin.GET("/subscribers", h.listSubscribers)
		admin.GET("/submissions", h.listSubmissions)
	}

	router.NoRoute(h.notFound)

	return router, nil
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "HX-Request", "HX-Target", "HX-Current-URL"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			cfg.AllowCredentials = false
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			break
		}
	}
	if len(cfg.AllowOrigins) == 0 && !cfg.AllowAllOrigins {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

var stockholm = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// parseTemplates 加载页面模板；dir 非空时从磁盘加载以便覆盖内置模板
func parseTemplates(dir string) (*template.Template, error) {
	funcs := template.FuncMap{
		"date": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.In(stockholm).Format("2006-01-02")
		},
	}
	tmpl := template.New("").Funcs(funcs)
	if dir != "" {
		return tmpl.ParseGlob(filepath.Join(dir, "*.html"))
	}
	return tmpl.ParseFS(templateFS, "templates/*.html")
}

// page 页面公共数据
type page struct {
	Title   string
	BaseURL string
}

func (h *Handler) page(title string) page {
	return page{Title: title, BaseURL: strings.TrimRight(h.site.BaseURL, "/")}
}

func (h *Handler) notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") ||
		strings.HasPrefix(c.Request.URL.Path, "/admin/") ||
		strings.HasPrefix(c.Request.URL.Path, "/internal/") {
		Error(c, http.StatusNotFound, MsgNotFound)
		return
	}
	c.HTML(http.StatusNotFound, "not_found.html", h.page("Sidan kunde inte hittas"))
}

func (h *Handler) healthSummary(c *gin.Context) {
	results, ok := h.health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	state := "ok"
	if !ok {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
