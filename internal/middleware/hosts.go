package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AllowedHosts 校验 Host 请求头
//
// 支持 "*"、精确匹配以及以 "." 开头的子域名匹配（".harpans.se" 匹配
// harpans.se 及其所有子域名）。列表为空时不做限制。
// /health 与 /metrics 不校验，探针通常直接使用 IP 访问。
func AllowedHosts(hosts []string) gin.HandlerFunc {
	patterns := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.Trim(strings.TrimSpace(h), "[]"))
		if h != "" {
			patterns = append(patterns, h)
		}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if len(patterns) == 0 || strings.HasPrefix(path, "/health") || path == "/metrics" {
			c.Next()
			return
		}
		if !hostAllowed(requestHost(c.Request.Host), patterns) {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		c.Next()
	}
}

func requestHost(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func hostAllowed(host string, patterns []string) bool {
	if host == "" {
		return false
	}
	for _, p := range patterns {
		switch {
		case p == "*", p == host:
			return true
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		}
	}
	return false
}
