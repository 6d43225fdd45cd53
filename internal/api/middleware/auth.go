package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/cv_score_server/internal/pkg/jwt"
	"github.com/qs3c/cv_score_server/internal/pkg/response"
)

const (
	UserIDKey     = "userID"
	tokenQueryKey = "token"
)

var (
	errMissingToken = errors.New("请提供认证信息")
	errTokenFormat  = errors.New("认证格式错误")
)

// Auth JWT 认证中间件；浏览器的 websocket 无法设置请求头，允许用 ?token= 传递
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			response.AuthError(c, err.Error())
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			message := "认证失败"
			if errors.Is(err, jwt.ErrExpiredToken) {
				message = "认证已过期"
			}
			response.AuthError(c, message)
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// extractToken 优先读取 Authorization 头
func extractToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || strings.TrimSpace(token) == "" {
			return "", errTokenFormat
		}
		return token, nil
	}
	if token := c.Query(tokenQueryKey); token != "" {
		return token, nil
	}
	return "", errMissingToken
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
