package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func serve(m *TokenAuthMiddleware, header string) int {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodPost, "/pipeline/run", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, req)
	return w.Code
}

func TestTokenAuth_Disabled(t *testing.T) {
	m := NewTokenAuthMiddleware("")
	assert.False(t, m.Enabled())
	assert.Equal(t, http.StatusNoContent, serve(m, ""))
}

func TestTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token-1"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewTokenAuthMiddleware(string(hash))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"缺少头", "", http.StatusUnauthorized},
		{"格式错误", "Basic token-1", http.StatusUnauthorized},
		{"Token错误", "Bearer token-2", http.StatusUnauthorized},
		{"Token正确", "Bearer token-1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(m, tt.header))
		})
	}
}

func TestTokenAuth_CacheExpires(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token-1"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewTokenAuthMiddleware(string(hash))
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	assert.True(t, m.verify("token-1"))
	assert.Len(t, m.cache, 1)

	// 缓存过期后重新校验哈希
	now = now.Add(10 * time.Minute)
	m.hash = []byte("not-a-hash")
	assert.False(t, m.verify("token-1"))
}
