package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwtpkg "harpans/site/internal/auth/jwt"
	"harpans/site/internal/config"
)

// issue-token 为 CMS 发布钩子或管理接口签发令牌
func main() {
	subject := flag.String("subject", "cms", "令牌主体，出现在请求日志中")
	scope := flag.String("scope", jwtpkg.ScopeHook, "权限范围: hook 或 admin")
	ttl := flag.Duration("ttl", 0, "有效期，默认读取 HARPANS_AUTH_TOKEN_TTL")
	flag.Parse()

	if !jwtpkg.ValidScope(*scope) {
		fmt.Printf("Invalid scope %q (expected %s or %s)\n", *scope, jwtpkg.ScopeHook, jwtpkg.ScopeAdmin)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	expiry := cfg.Auth.TokenTTL
	if *ttl > 0 {
		expiry = *ttl
	}

	manager := jwtpkg.NewManager(cfg.Site.SecretKey, cfg.Auth.Issuer, expiry)
	token, expiresAt, err := manager.Issue(*subject, *scope)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "subject=%s scope=%s expires=%s\n", *subject, *scope, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
