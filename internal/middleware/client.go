package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// UnknownClientAddress 无法确定客户端地址时使用
const UnknownClientAddress = "0.0.0.0"

// ClientAddress 客户端地址：X-Forwarded-For 的第一项，否则为连接的远端地址
func ClientAddress(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(c.Request.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return UnknownClientAddress
}
