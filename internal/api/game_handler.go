package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ai-game-dev/internal/adapter"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// CreateGameRequest 生成请求
type CreateGameRequest struct {
	Description string            `json:"description"`
	Config      models.GameConfig `json:"config"`
	Async       bool              `json:"async"`
}

// CreateGameResponse 生成响应，同步时带结果
type CreateGameResponse struct {
	Handle int                `json:"handle"`
	JobID  string             `json:"job_id,omitempty"`
	State  models.JobState    `json:"state"`
	Result *models.GameResult `json:"result,omitempty"`
}

// BatchRequest 批量生成请求
type BatchRequest struct {
	Items       []game.BatchItem `json:"items"`
	Concurrency int              `json:"concurrency"`
}

// listEngines 引擎目录
func (r *Router) listEngines(c *gin.Context) {
	catalog := r.process.Catalog()
	c.JSON(http.StatusOK, gin.H{
		"engines": catalog.Engines(),
		"default": catalog.Default(),
	})
}

// version 服务版本
func (r *Router) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": r.binding.Version()})
}

// createGame 同步或异步生成
func (r *Router) createGame(c *gin.Context) {
	var req CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrapf(err, apperr.ErrInvalidParam, "invalid request body: %v", err))
		return
	}

	if req.Async {
		handle, err := r.process.GenerateAsync(req.Description, req.Config)
		if err != nil {
			respondError(c, err)
			return
		}
		// 工作协程可能已经开始执行，返回当前真实状态
		resp := CreateGameResponse{Handle: handle, State: models.JobPending}
		if snap, err := r.process.Get(handle); err == nil {
			resp.JobID = snap.JobID
			resp.State = snap.State
		}
		c.JSON(http.StatusAccepted, resp)
		return
	}

	snap, err := r.process.Generate(c.Request.Context(), req.Description, req.Config)
	if err != nil {
		respondError(c, err)
		return
	}
	r.log.Debug("游戏生成完成",
		zap.Int("handle", snap.Handle),
		zap.String("state", string(snap.State)))

	c.JSON(http.StatusOK, CreateGameResponse{
		Handle: snap.Handle,
		JobID:  snap.JobID,
		State:  snap.State,
		Result: snap.Result,
	})
}

// createBatch 批量同步生成
func (r *Router) createBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrapf(err, apperr.ErrInvalidParam, "invalid request body: %v", err))
		return
	}
	if len(req.Items) == 0 {
		respondError(c, apperr.New(apperr.ErrInvalidParam, "items cannot be empty"))
		return
	}

	limit := req.Concurrency
	if limit <= 0 || limit > r.batchLimit {
		limit = r.batchLimit
	}

	results, err := r.process.GenerateBatch(c.Request.Context(), req.Items, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// getResult 返回与绑定层一致的结果 JSON
func (r *Router) getResult(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	snap, err := r.process.Get(handle)
	if err != nil {
		respondError(c, err)
		return
	}
	if !snap.State.IsTerminal() || snap.Result == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"error": "game not yet generated",
			"state": snap.State,
		})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(adapter.ResultJSON(snap.Result)))
}

// getStatus 任务快照
func (r *Router) getStatus(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	snap, err := r.process.Get(handle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// listGames 当前登记的所有任务
func (r *Router) listGames(c *gin.Context) {
	jobs, err := r.process.Jobs()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// evictGame 移除终态任务
func (r *Router) evictGame(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := r.process.Evict(handle); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
