// Package adapter 对外绑定层：整数句柄、JSON 字符串、按调用方记录的最后错误
package adapter

import (
	"context"
	"encoding/json"
	"sync"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// InvalidHandle 失败哨兵
const InvalidHandle = -1

// Init 返回码
const (
	InitOK                = 0
	InitResourceExhausted = 1
	InitAlreadyFailed     = 2
	InitUnknownError      = 3
)

// get_result 的错误消息
const (
	msgInvalidHandle = "invalid instance id"
	msgNotGenerated  = "game not yet generated"
)

// Binding 绑定层入口，包装一个进程上下文
type Binding struct {
	process *game.Process
	logger  *zap.Logger
}

// New 创建绑定层
func New(process *game.Process, log *zap.Logger) *Binding {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binding{process: process, logger: log.Named("binding")}
}

// Process 底层进程上下文
func (b *Binding) Process() *game.Process {
	return b.process
}

// Caller 为一个调用上下文创建句柄，最后错误只对该调用方可见
func (b *Binding) Caller() *Caller {
	return &Caller{binding: b}
}

// SupportedEngines 引擎名 JSON 数组
func (b *Binding) SupportedEngines() string {
	data, err := json.Marshal(b.process.Catalog().SupportedEngines())
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Version 版本号
func (b *Binding) Version() string {
	return game.Version
}

// Cleanup 清理进程上下文
func (b *Binding) Cleanup() {
	b.process.Teardown()
}

// Caller 单个调用上下文
type Caller struct {
	binding *Binding

	mu      sync.Mutex
	lastErr string
}

// Init 初始化进程，0 表示成功
func (c *Caller) Init() int {
	err := c.binding.process.Init()
	if err == nil {
		return InitOK
	}
	c.setError(err)
	switch apperr.GetCode(err) {
	case apperr.ErrResourceExhausted:
		return InitResourceExhausted
	case apperr.ErrAlreadyFailed:
		return InitAlreadyFailed
	default:
		return InitUnknownError
	}
}

// CreateGame 同步生成，返回句柄，失败返回 -1
func (c *Caller) CreateGame(description, configJSON string) int {
	return c.CreateGameContext(context.Background(), description, configJSON)
}

// CreateGameContext 带上下文的同步生成
func (c *Caller) CreateGameContext(ctx context.Context, description, configJSON string) int {
	cfg, err := parseConfig(configJSON)
	if err != nil {
		c.setError(err)
		return InvalidHandle
	}
	snap, err := c.binding.process.Generate(ctx, description, cfg)
	if err != nil {
		c.setError(err)
		return InvalidHandle
	}
	return snap.Handle
}

// CreateGameAsync 异步生成，立即返回句柄
func (c *Caller) CreateGameAsync(description, configJSON string) int {
	cfg, err := parseConfig(configJSON)
	if err != nil {
		c.setError(err)
		return InvalidHandle
	}
	handle, err := c.binding.process.GenerateAsync(description, cfg)
	if err != nil {
		c.setError(err)
		return InvalidHandle
	}
	return handle
}

// GetResult 序列化生成结果；终态后多次调用返回相同内容
func (c *Caller) GetResult(handle int) string {
	snap, err := c.binding.process.Get(handle)
	if err != nil {
		c.setError(err)
		if apperr.Is(err, apperr.ErrNotFound) {
			return errorJSON(msgInvalidHandle, "")
		}
		return errorJSON(apperr.Message(err), "")
	}
	if !snap.State.IsTerminal() || snap.Result == nil {
		return errorJSON(msgNotGenerated, string(snap.State))
	}
	return ResultJSON(snap.Result)
}

// LastError 该调用方最近一次失败的描述，没有失败时为空
func (c *Caller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Caller) setError(err error) {
	msg := apperr.Message(err)
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
	c.binding.logger.Debug("调用失败", zap.String("error", msg))
}

// parseConfig 解析配置 JSON
func parseConfig(configJSON string) (models.GameConfig, error) {
	cfg, err := models.ParseGameConfig(configJSON)
	if err != nil {
		return cfg, apperr.Wrap(err, apperr.ErrConfigParse)
	}
	return cfg, nil
}

// ResultJSON 序列化 GameResult，files_generated 始终是数组
func ResultJSON(r *models.GameResult) string {
	out := r.Clone()
	if out.FilesGenerated == nil {
		out.FilesGenerated = []string{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errorJSON(err.Error(), "")
	}
	return string(data)
}

func errorJSON(message, state string) string {
	payload := struct {
		Error string `json:"error"`
		State string `json:"state,omitempty"`
	}{Error: message, State: state}
	data, _ := json.Marshal(payload)
	return string(data)
}
