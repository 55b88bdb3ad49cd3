package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "harpans/site/internal/auth/jwt"
	"harpans/site/internal/cache"
	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/health"
	"harpans/site/internal/mailer"
	"harpans/site/internal/middleware"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/service"
	"harpans/site/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "router-test-secret-with-enough-length"

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>SKV</title>
<item><title>Momsnyhet</title><link>https://www.skatteverket.se/n/1</link><pubDate>Mon, 02 Mar 2026 09:00:00 +0100</pubDate><description>Kort text</description></item>
</channel></rss>`

type recordingTransport struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (t *recordingTransport) Name() string { return "recording" }

func (t *recordingTransport) SendBatch(_ context.Context, msgs []mailer.Message) (*mailer.BatchResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return &mailer.BatchResult{}, fmt.Errorf("%w: %w", mailer.ErrTransport, t.err)
	}
	t.msgs = append(t.msgs, msgs...)
	return &mailer.BatchResult{Sent: len(msgs)}, nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

type routerFixture struct {
	router    *gin.Engine
	store     *memory.Store
	transport *recordingTransport
	jwt       *jwtpkg.Manager
	subs      *service.SubscriptionService
}

func newRouterFixture(t *testing.T, opts ...func(*RouterDependencies)) *routerFixture {
	t.Helper()
	log := zap.NewNop()
	metrics := monitoring.NewMetrics()

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testRSS))
	}))
	t.Cleanup(feedSrv.Close)
	feedURL, err := url.Parse(feedSrv.URL)
	require.NoError(t, err)

	store := memory.NewStore()
	ephemeral := cache.NewLocalCache(time.Minute)
	t.Cleanup(func() { ephemeral.Close() })

	cfg := &config.Config{
		Site: config.SiteConfig{
			BaseURL:       "https://harpans.se",
			HoneypotField: "website",
			Debug:         true,
		},
	}

	transport := &recordingTransport{}
	templates := service.MustTemplateRenderer()
	counters := service.NewCounterRateLimiter(ephemeral, log, metrics)

	intake := service.NewIntakeService(
		store,
		service.NewSubmissionRateLimiter(store, log, metrics),
		counters,
		transport,
		templates,
		service.IntakeConfig{
			From:     "noreply@harpans.se",
			Contact:  config.LimitRule{MaxAttempts: 2, Window: 30 * time.Minute},
			Callback: config.LimitRule{MaxAttempts: 2, Window: 45 * time.Minute},
		},
		log, metrics,
	)
	subs := service.NewSubscriptionService(store, counters, config.LimitRule{MaxAttempts: 5, Window: time.Hour}, log)
	notifications := service.NewNotificationDispatcher(store, store, ephemeral, transport, templates,
		service.NotificationConfig{From: "noreply@harpans.se", BaseURL: cfg.Site.BaseURL}, log, metrics)
	feeds := service.NewFeedProxy(ephemeral, config.FeedConfig{AllowedHosts: []string{feedURL.Hostname()}}, log, metrics)
	instagram := service.NewInstagramProxy(ephemeral, config.InstagramConfig{}, log, metrics)

	manager := jwtpkg.NewManager(testSecret, "harpans", time.Hour)
	checker := health.NewHealthChecker(log)
	checker.AddDependency("cache", ephemeral.Ping)

	deps := RouterDependencies{
		Config:        cfg,
		Intake:        intake,
		Subscriptions: subs,
		Notifications: notifications,
		Feeds:         feeds,
		FeedSections: []domain.FeedSection{
			{Title: "Nyheter", URL: feedSrv.URL, Limit: 5, Note: "Från Skatteverket"},
		},
		Instagram:  instagram,
		JWTManager: manager,
		Health:     checker,
		Metrics:    metrics,
		Logger:     log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router, err := NewRouter(deps)
	require.NoError(t, err)

	return &routerFixture{router: router, store: store, transport: transport, jwt: manager, subs: subs}
}

func (f *routerFixture) token(t *testing.T, scope string) string {
	t.Helper()
	token, _, err := f.jwt.Issue("cms", scope)
	require.NoError(t, err)
	return token
}

func (f *routerFixture) postForm(path string, form url.Values, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if client != "" {
		req.Header.Set("X-Forwarded-For", client)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func contactValues() url.Values {
	return url.Values{
		"name":         {"Anna Andersson"},
		"email":        {"anna@example.se"},
		"message":      {"Vi behöver hjälp med bokslutet."},
		"gdpr_consent": {"on"},
	}
}

func decodeForm(t *testing.T, w *httptest.ResponseRecorder) FormResult {
	t.Helper()
	var res FormResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestContact_Success(t *testing.T) {
	f := newRouterFixture(t)

	w := f.postForm("/api/contact/", contactValues(), "203.0.113.1")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeForm(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, MsgContactThanks, res.Message)

	saved, err := f.store.ListSubmissions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "203.0.113.1", saved[0].ClientAddress)
	assert.Equal(t, 1, f.transport.count())

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestContact_Honeypot(t *testing.T) {
	f := newRouterFixture(t)

	form := contactValues()
	form.Set("website", "http://spam.example")
	w := f.postForm("/api/contact/", form, "203.0.113.2")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeForm(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, MsgContactHoneypot, res.Message)

	saved, err := f.store.ListSubmissions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.Equal(t, 0, f.transport.count())

	// 只有空白的蜜罐字段按正常提交处理
	form.Set("website", " \t ")
	w = f.postForm("/api/contact/", form, "203.0.113.2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgContactThanks, decodeForm(t, w).Message)
	assert.Equal(t, 1, f.transport.count())
}

func withThrottle(rps float64, burst int) func(*RouterDependencies) {
	return func(deps *RouterDependencies) {
		deps.Throttle = middleware.NewThrottle(rps, burst)
	}
}

func TestForms_HoneypotSkipsThrottle(t *testing.T) {
	f := newRouterFixture(t, withThrottle(0.001, 10))

	form := contactValues()
	form.Set("website", "  http://spam.example ")
	for i := 0; i < 12; i++ {
		w := f.postForm("/api/contact/", form, "203.0.113.40")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		res := decodeForm(t, w)
		assert.True(t, res.Success)
		assert.Equal(t, MsgContactHoneypot, res.Message)
	}

	// 蜜罐请求未消耗额度，正常提交仍被处理
	w := f.postForm("/api/contact/", contactValues(), "203.0.113.40")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgContactThanks, decodeForm(t, w).Message)
	assert.Equal(t, 1, f.transport.count())
}

func TestForms_ThrottleLooksLikeSuccess(t *testing.T) {
	f := newRouterFixture(t, withThrottle(0.001, 1))

	w := f.postForm("/blogg/prenumerera/", url.Values{"email": {"anna@example.se"}}, "203.0.113.41")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.postForm("/blogg/prenumerera/", url.Values{"email": {"erik@example.se"}}, "203.0.113.41")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgSubscribeSoft)
	assert.NotContains(t, w.Body.String(), "too many requests")

	form := url.Values{"name": {"Bertil"}, "phone": {"08-123 456"}}
	w = f.postForm("/api/callback/", form, "203.0.113.42")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.postForm("/api/callback/", form, "203.0.113.42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackThrottled)

	w = f.postForm("/api/contact/", contactValues(), "203.0.113.43")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.postForm("/api/contact/", contactValues(), "203.0.113.43")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeForm(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, MsgContactThrottled, res.Message)

	subs, err := f.store.ListSubscribers(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, 2, f.transport.count())
}

func TestContact_ValidationErrors(t *testing.T) {
	f := newRouterFixture(t)

	form := contactValues()
	form.Set("email", "inte-en-adress")
	form.Del("gdpr_consent")
	w := f.postForm("/api/contact/", form, "203.0.113.3")
	require.Equal(t, http.StatusBadRequest, w.Code)
	res := decodeForm(t, w)
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors, "email")
	assert.Contains(t, res.Errors, "gdpr_consent")
}

func TestContact_Throttled(t *testing.T) {
	f := newRouterFixture(t)

	for i := 0; i < 2; i++ {
		w := f.postForm("/api/contact/", contactValues(), "203.0.113.4")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.postForm("/api/contact/", contactValues(), "203.0.113.4")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeForm(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, MsgContactThrottled, res.Message)
	assert.Equal(t, 2, f.transport.count())
}

func TestCallback(t *testing.T) {
	f := newRouterFixture(t)

	w := f.postForm("/api/callback/", url.Values{"name": {"Bertil"}, "phone": {"08-123 456"}, "preferred_time": {"morning"}}, "203.0.113.5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackThanks)
	assert.Contains(t, w.Body.String(), "bg-green-50")
	assert.Equal(t, 1, f.transport.count())

	w = f.postForm("/api/callback/", url.Values{"name": {"Bertil"}}, "203.0.113.6")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackMissing)
	assert.Contains(t, w.Body.String(), "bg-red-50")

	w = f.postForm("/api/callback/", url.Values{"name": {"Bertil"}, "website": {"x"}}, "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackReceived)
	assert.Equal(t, 1, f.transport.count())
}

func TestCallback_Throttled(t *testing.T) {
	f := newRouterFixture(t)
	form := url.Values{"name": {"Bertil"}, "phone": {"08-123 456"}}

	for i := 0; i < 2; i++ {
		w := f.postForm("/api/callback/", form, "203.0.113.8")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.postForm("/api/callback/", form, "203.0.113.8")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackThrottled)
	assert.Equal(t, 2, f.transport.count())
}

func TestCallback_DeliveryFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.transport.err = fmt.Errorf("connection refused")

	w := f.postForm("/api/callback/", url.Values{"name": {"Bertil"}, "phone": {"08-123 456"}}, "203.0.113.9")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), MsgCallbackFailedLead)
	assert.Contains(t, w.Body.String(), MsgCallbackFailed)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	w := f.postForm("/blogg/prenumerera/", url.Values{"email": {" Anna@Example.se "}}, "203.0.113.10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anna@example.se är nu anmäld")

	sub, err := f.store.GetSubscriberByEmail(ctx, "anna@example.se")
	require.NoError(t, err)
	assert.True(t, sub.IsActive)

	w = f.do(http.MethodGet, "/blogg/avregistrera/"+sub.UnsubscribeToken+"/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anna@example.se")
	assert.Contains(t, w.Body.String(), "https://harpans.se/blogg/")

	sub, err = f.store.GetSubscriberByEmail(ctx, "anna@example.se")
	require.NoError(t, err)
	assert.False(t, sub.IsActive)

	// 重复退订仍然成功
	w = f.do(http.MethodGet, "/blogg/avregistrera/"+sub.UnsubscribeToken+"/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/blogg/avregistrera/okand-token/", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Sidan kunde inte hittas")
}

func TestSubscribe_InvalidAndHoneypot(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	w := f.postForm("/blogg/prenumerera/", url.Values{"email": {"inte-en-adress"}}, "203.0.113.11")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), MsgSubscribeInvalid)

	w = f.postForm("/blogg/prenumerera/", url.Values{"email": {""}}, "203.0.113.11")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.postForm("/blogg/prenumerera/", url.Values{"email": {"bot@example.se"}, "website": {"x"}}, "203.0.113.11")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgSubscribeSoft)

	subs, err := f.store.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscribe_ThrottledLooksLikeSuccess(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	for i := 0; i < 5; i++ {
		w := f.postForm("/blogg/prenumerera/", url.Values{"email": {fmt.Sprintf("user%d@example.se", i)}}, "203.0.113.12")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.postForm("/blogg/prenumerera/", url.Values{"email": {"sjatte@example.se"}}, "203.0.113.12")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MsgSubscribeSoft)

	subs, err := f.store.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 5)
}

func TestContentPublishedHook(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	_, err := f.subs.Subscribe(ctx, "anna@example.se", "203.0.113.20")
	require.NoError(t, err)

	payload := []byte(`{"id": 42, "type": "blog_post", "title": "Nya regler", "url": "/blogg/nya-regler/", "intro": "Kort", "send_notification": true}`)

	w := f.do(http.MethodPost, "/internal/hooks/published", "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := f.token(t, jwtpkg.ScopeHook)
	w = f.do(http.MethodPost, "/internal/hooks/published", token, payload)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int                    `json:"code"`
		Data service.DispatchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.DispatchSent, resp.Data.Status)
	assert.Equal(t, "42", resp.Data.PostID)
	assert.Equal(t, 1, resp.Data.Sent)
	assert.Equal(t, 1, f.transport.count())

	// 再次发布不会重复发送
	w = f.do(http.MethodPost, "/internal/hooks/published", token, payload)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.DispatchAlreadySent, resp.Data.Status)
	assert.Equal(t, 1, f.transport.count())

	w = f.do(http.MethodPost, "/internal/hooks/published", token, []byte(`{"id":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentPublishedHook_TransportFailure(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	_, err := f.subs.Subscribe(ctx, "anna@example.se", "203.0.113.21")
	require.NoError(t, err)
	f.transport.err = fmt.Errorf("smtp unavailable")

	payload := []byte(`{"id": "7", "type": "blog_post", "title": "Bokslut", "url": "/blogg/bokslut/", "send_notification": true}`)
	w := f.do(http.MethodPost, "/internal/hooks/published", f.token(t, jwtpkg.ScopeHook), payload)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), MsgTransportFailed)

	exists, err := f.store.MarkerExists(ctx, "7")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAdminEndpoints(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	_, err := f.subs.Subscribe(ctx, "anna@example.se", "203.0.113.30")
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/admin/api/subscribers", f.token(t, jwtpkg.ScopeHook), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := f.token(t, jwtpkg.ScopeAdmin)
	w = f.do(http.MethodGet, "/admin/api/subscribers", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anna@example.se")
	assert.NotContains(t, w.Body.String(), "UnsubscribeToken")

	w = f.postForm("/api/contact/", contactValues(), "203.0.113.31")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/admin/api/submissions?limit=abc", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Count)

	// admin 令牌同样可以调用钩子
	w = f.do(http.MethodPost, "/internal/hooks/published", admin, []byte(`{"id": 1, "type": "page"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(service.DispatchNotBlogPost))
}

func TestAktuellt(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/aktuellt/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<title>Aktuellt | Harpans Redovisning</title>")
	assert.Contains(t, body, "Momsnyhet")
	assert.Contains(t, body, "Från Skatteverket")
	assert.Contains(t, body, "2026-03-02")
}

func TestInstagramWithoutToken(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/api/instagram/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"posts": []}`, w.Body.String())
}

func TestNotFound(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/api/okand/", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = f.do(http.MethodGet, "/finns-inte/", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Sidan kunde inte hittas")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "harpans_http_requests_total")
}

func TestCORSConfig(t *testing.T) {
	cfg := corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.False(t, cfg.AllowCredentials)
	assert.Nil(t, cfg.AllowOrigins)

	cfg = corsConfig(nil)
	assert.True(t, cfg.AllowAllOrigins)

	cfg = corsConfig([]string{"https://harpans.se"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.True(t, cfg.AllowCredentials)
}
