package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ai-game-dev/internal/adapter"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/middleware"
	"go.uber.org/zap"
)

// adminInit 初始化进程，返回与绑定层一致的状态码
func (r *Router) adminInit(c *gin.Context) {
	caller := r.binding.Caller()
	code := caller.Init()

	subject, _ := middleware.GetSubject(c)
	r.log.Info("管理员初始化生成进程", zap.String("subject", subject), zap.Int("code", code))

	status := http.StatusOK
	if code != adapter.InitOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"code":  code,
		"error": caller.LastError(),
	})
}

// adminCleanup 清理进程，释放所有任务
func (r *Router) adminCleanup(c *gin.Context) {
	released := r.process.Stats().Jobs
	r.binding.Cleanup()

	subject, _ := middleware.GetSubject(c)
	r.log.Info("管理员清理生成进程", zap.String("subject", subject), zap.Int("released", released))

	c.JSON(http.StatusOK, gin.H{"released": released})
}

// adminStats 进程运行状态
func (r *Router) adminStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.process.Stats())
}

// adminHistoryCleanup 删除超过保留天数的历史
func (r *Router) adminHistoryCleanup(c *gin.Context) {
	history, err := r.history()
	if err != nil {
		respondError(c, err)
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("retention_days", "30"))
	if err != nil || days <= 0 {
		respondError(c, apperr.New(apperr.ErrInvalidParam, "retention_days must be a positive integer"))
		return
	}

	deleted, err := history.Cleanup(c.Request.Context(), days)
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.ErrDatabaseQuery))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
