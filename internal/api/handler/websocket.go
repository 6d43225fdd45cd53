package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/internal/api/middleware"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/response"
	"github.com/qs3c/cv_score_server/internal/pkg/ws"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler allowedOrigins 为空时不校验 Origin
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string, l *zap.Logger) *WebSocketHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				if !ok {
					_, ok = origins["*"]
				}
				return ok
			},
		},
		logger: logger.OrNop(l),
	}
}

// Handle WebSocket 连接处理，认证由 Auth 中间件通过 ?token= 完成
// GET /api/v1/ws?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	client := &ws.Client{
		UserID: userID,
		Conn:   conn,
	}
	h.hub.Register(client)

	// 只读不处理，用于检测断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ForwardProgress 把 pub/sub 进度消息转发给对应用户的连接
func ForwardProgress(hub *ws.Hub, l *zap.Logger) func(*pubsub.ProgressMessage) {
	l = logger.OrNop(l)
	return func(msg *pubsub.ProgressMessage) {
		msg.Fill()
		err := hub.SendToUser(msg.UserID, &ws.Message{
			Type: msg.Type,
			Data: msg,
		})
		if err != nil {
			l.Warn("failed to forward progress",
				zap.Int64("user_id", msg.UserID),
				zap.Int64(logger.FieldCVID, msg.CVID),
				zap.Error(err),
			)
		}
	}
}
