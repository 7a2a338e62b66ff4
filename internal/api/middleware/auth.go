// Package middleware 提供HTTP中间件
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/config"
)

// AccessKey 上下文中记录的访问级别
const AccessKey = "api_access"

// Access 访问级别
type Access int

const (
	AccessNone Access = iota
	// AccessRead 只能查询设备、通道与日志
	AccessRead
	// AccessFull 可以下发通道命令
	AccessFull
)

type keyring struct {
	full [][]byte
	read [][]byte
}

func newKeyring(cfg config.APIConfig) keyring {
	collect := func(in []string) [][]byte {
		out := make([][]byte, 0, len(in))
		for _, k := range in {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, []byte(k))
			}
		}
		return out
	}
	return keyring{full: collect(cfg.APIKeys), read: collect(cfg.ReadOnlyKeys)}
}

// lookup 逐个常量时间比较，不提前返回
func (k keyring) lookup(key string) Access {
	b := []byte(key)
	match := func(set [][]byte) bool {
		found := 0
		for _, s := range set {
			found |= subtle.ConstantTimeCompare(s, b)
		}
		return found == 1
	}
	switch {
	case match(k.full):
		return AccessFull
	case match(k.read):
		return AccessRead
	}
	return AccessNone
}

// APIKeyAuth 校验 X-API-Key 或 Authorization: Bearer。
// 只读 Key 仅允许 GET/HEAD；未启用认证时所有请求按完全访问放行。
func APIKeyAuth(cfg config.APIConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	ring := newKeyring(cfg)

	return func(c *gin.Context) {
		if !cfg.AuthEnabled {
			c.Set(AccessKey, AccessFull)
			c.Next()
			return
		}

		key := extractAPIKey(c)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("request_id", c.GetString(RequestIDKey)),
		}
		if key == "" {
			logger.Warn("api auth: missing api key", fields...)
			reject(c, http.StatusUnauthorized, "请在Header中提供 X-API-Key 或 Authorization: Bearer <token>")
			return
		}

		fields = append(fields, zap.String("api_key", maskAPIKey(key)))
		access := ring.lookup(key)
		switch {
		case access == AccessNone:
			logger.Warn("api auth: invalid api key", fields...)
			reject(c, http.StatusForbidden, "无效的API Key")
			return
		case access == AccessRead && !readOnlyMethod(c.Request.Method):
			logger.Warn("api auth: read-only key used for command", fields...)
			reject(c, http.StatusForbidden, "只读 API Key 不能下发命令")
			return
		}

		c.Set(AccessKey, access)
		c.Next()
	}
}

func reject(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"code": code, "message": msg})
}

func readOnlyMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead
}

func extractAPIKey(c *gin.Context) string {
	if k := c.GetHeader("X-API-Key"); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// maskAPIKey 仅保留前后各 4 位
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// CORS 允许浏览器跨域访问 API
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
