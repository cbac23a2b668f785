package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/repository"
	"github.com/wfunc/ai-game-dev/internal/service"
	"gorm.io/gorm"
)

func (r *Router) history() (*service.HistoryService, error) {
	if r.services.History == nil {
		return nil, apperr.New(apperr.ErrDatabaseConnect, "generation history is disabled")
	}
	return r.services.History, nil
}

// listHistory 分页查询生成历史
func (r *Router) listHistory(c *gin.Context) {
	history, err := r.history()
	if err != nil {
		respondError(c, err)
		return
	}

	var filter repository.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, apperr.Wrap(err, apperr.ErrInvalidParam))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	recs, p, err := history.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       recs,
		"pagination": p,
	})
}

// getHistory 按任务ID查询
func (r *Router) getHistory(c *gin.Context) {
	history, err := r.history()
	if err != nil {
		respondError(c, err)
		return
	}

	jobID := c.Param("job_id")
	rec, err := history.GetByJobID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperr.Newf(apperr.ErrNotFound, "job %s", jobID))
			return
		}
		respondError(c, apperr.Wrap(err, apperr.ErrDatabaseQuery))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// historyStats 历史统计
func (r *Router) historyStats(c *gin.Context) {
	history, err := r.history()
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := history.Stats(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.ErrDatabaseQuery))
		return
	}
	c.JSON(http.StatusOK, stats)
}
