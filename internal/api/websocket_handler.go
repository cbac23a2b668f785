package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// jobEvents 任务事件推送，可通过 ?handle= 预先订阅
func (r *Router) jobEvents(c *gin.Context) {
	client, err := r.hub.Accept(r.upgrader, c.Writer, c.Request)
	if err != nil {
		r.log.Error("WebSocket升级失败", zap.String("ip", c.ClientIP()), zap.Error(err))
		return
	}

	for _, raw := range c.QueryArray("handle") {
		if handle, err := strconv.Atoi(raw); err == nil {
			client.Subscribe(handle)
		}
	}

	r.log.Info("WebSocket连接建立", zap.String("client_id", client.ID))
}
