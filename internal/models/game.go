package models

import (
	"encoding/json"
	"fmt"
)

// Engine 目标游戏引擎
type Engine string

const (
	EngineArcade Engine = "Arcade"
	EngineBevy   Engine = "Bevy"
	EngineGodot  Engine = "Godot"
	EngineAuto   Engine = "Auto" // 请求时决定，解析后不会再出现
)

// Complexity 复杂度
type Complexity string

const (
	ComplexitySimple       Complexity = "simple"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// Rank 复杂度等级，simple=0
func (c Complexity) Rank() int {
	switch c {
	case ComplexityIntermediate:
		return 1
	case ComplexityAdvanced:
		return 2
	default:
		return 0
	}
}

// GameConfig 生成请求配置
type GameConfig struct {
	Engine         Engine     `json:"engine"`
	Complexity     Complexity `json:"complexity"`
	TargetAudience string     `json:"target_audience,omitempty"`
	Features       []string   `json:"features"`
}

// ParseGameConfig 解析边界层传入的JSON配置，空字符串视为默认配置
func ParseGameConfig(data string) (GameConfig, error) {
	var cfg GameConfig
	if data == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return GameConfig{}, fmt.Errorf("invalid configuration JSON: %w", err)
	}
	return cfg, nil
}

// ResolvedConfig 解析后的配置，Engine 一定是具体引擎
type ResolvedConfig struct {
	Engine         Engine     `json:"engine"`
	Complexity     Complexity `json:"complexity"`
	TargetAudience string     `json:"target_audience,omitempty"`
	Features       []string   `json:"features"`
	AutoSelected   bool       `json:"auto_selected"`
}

// Clone 深拷贝
func (c ResolvedConfig) Clone() ResolvedConfig {
	c.Features = append([]string{}, c.Features...)
	return c
}

// HasFeature 是否包含某个特性
func (c ResolvedConfig) HasFeature(name string) bool {
	for _, f := range c.Features {
		if f == name {
			return true
		}
	}
	return false
}

// GameResult 生成结果
type GameResult struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Engine          string   `json:"engine"`
	Success         bool     `json:"success"`
	FilesGenerated  []string `json:"files_generated"`
	OutputDirectory string   `json:"output_directory"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

// NewFailedResult 构造失败结果，不报告任何文件
func NewFailedResult(title, description string, engine Engine, message string) *GameResult {
	if message == "" {
		message = "generation failed"
	}
	return &GameResult{
		Title:          title,
		Description:    description,
		Engine:         string(engine),
		Success:        false,
		FilesGenerated: []string{},
		ErrorMessage:   message,
	}
}

// Clone 深拷贝
func (r *GameResult) Clone() *GameResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.FilesGenerated = append([]string{}, r.FilesGenerated...)
	return &cp
}

// Validate 校验 success 与 error_message/files_generated 的一致性
func (r *GameResult) Validate() error {
	if r.Success {
		if r.ErrorMessage != "" {
			return fmt.Errorf("successful result carries error message %q", r.ErrorMessage)
		}
		if len(r.FilesGenerated) == 0 {
			return fmt.Errorf("successful result has no files")
		}
		return nil
	}
	if r.ErrorMessage == "" {
		return fmt.Errorf("failed result has empty error message")
	}
	return nil
}
