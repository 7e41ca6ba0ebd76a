/*
 * @module api/middleware/token_auth
 * @description API Token 鉴权中间件，保护手动触发运行等写操作
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference DESIGN.md
 * @stateFlow Token提取 -> bcrypt 校验(带缓存) -> 下一个处理器
 * @rules 只保存 Token 的 bcrypt 哈希；未配置哈希时不启用鉴权
 * @dependencies golang.org/x/crypto/bcrypt, github.com/go-chi/render
 * @refs api/routes.go, main.go
 */

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// EnvAPITokenHash 存放 API Token bcrypt 哈希的环境变量
const EnvAPITokenHash = "DQ_API_TOKEN_HASH"

// TokenAuthMiddleware Bearer Token 认证中间件
type TokenAuthMiddleware struct {
	hash []byte
	// 已验证 Token 的摘要缓存，避免每次请求都计算 bcrypt
	cache      map[string]time.Time
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewTokenAuthMiddleware 使用 bcrypt 哈希创建中间件，hash 为空时放行所有请求
func NewTokenAuthMiddleware(hash string) *TokenAuthMiddleware {
	return &TokenAuthMiddleware{
		hash:     []byte(hash),
		cache:    make(map[string]time.Time),
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
	}
}

// NewTokenAuthMiddlewareFromEnv 从环境变量读取哈希
func NewTokenAuthMiddlewareFromEnv() *TokenAuthMiddleware {
	return NewTokenAuthMiddleware(os.Getenv(EnvAPITokenHash))
}

// Enabled 是否启用鉴权
func (m *TokenAuthMiddleware) Enabled() bool {
	return len(m.hash) > 0
}

// Middleware 认证中间件处理函数
func (m *TokenAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, r, "缺少Authorization头")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			m.respondUnauthorized(w, r, "无效的Authorization格式，需要Bearer Token")
			return
		}

		if !m.verify(strings.TrimPrefix(authHeader, "Bearer ")) {
			m.respondUnauthorized(w, r, "Token无效")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *TokenAuthMiddleware) verify(token string) bool {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])
	now := m.now()

	m.cacheMutex.RLock()
	expiresAt, ok := m.cache[key]
	m.cacheMutex.RUnlock()
	if ok && now.Before(expiresAt) {
		return true
	}

	if bcrypt.CompareHashAndPassword(m.hash, []byte(token)) != nil {
		return false
	}

	m.cacheMutex.Lock()
	m.cache[key] = now.Add(m.cacheTTL)
	m.cacheMutex.Unlock()
	return true
}

func (m *TokenAuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusUnauthorized,
		"msg":    message,
	})
}
