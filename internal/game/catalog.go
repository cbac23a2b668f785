package game

import (
	"sort"

	"github.com/wfunc/ai-game-dev/internal/models"
)

// 能力标签
const (
	Tag2D          = "2d"
	Tag3D          = "3d"
	TagECS         = "ecs"
	TagNetworking  = "networking"
	TagPerformance = "performance"
	TagPhysics     = "physics"
	TagPython      = "python"
	TagRust        = "rust"
	TagScenes      = "scenes"
	TagSimple      = "simple"
	TagUI          = "ui"
	TagWeb         = "web"
)

// EngineInfo 引擎描述
type EngineInfo struct {
	Engine         models.Engine `json:"engine"`
	DisplayName    string        `json:"display_name"`
	Language       string        `json:"language"`
	CapabilityTags []string      `json:"capability_tags"`
}

// HasTag 是否具备某项能力
func (e EngineInfo) HasTag(tag string) bool {
	for _, t := range e.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Catalog 支持的目标引擎注册表，只读
type Catalog struct {
	engines map[models.Engine]EngineInfo
	order   []models.Engine
}

// NewCatalog 创建内置引擎目录
func NewCatalog() *Catalog {
	return newCatalog([]EngineInfo{
		{
			Engine:         models.EngineArcade,
			DisplayName:    "Arcade",
			Language:       "python",
			CapabilityTags: []string{Tag2D, TagPython, TagSimple, TagWeb},
		},
		{
			Engine:         models.EngineBevy,
			DisplayName:    "Bevy",
			Language:       "rust",
			CapabilityTags: []string{Tag2D, Tag3D, TagECS, TagPerformance, TagPhysics, TagRust},
		},
		{
			Engine:         models.EngineGodot,
			DisplayName:    "Godot",
			Language:       "gdscript",
			CapabilityTags: []string{Tag2D, Tag3D, TagNetworking, TagScenes, TagUI},
		},
	})
}

func newCatalog(infos []EngineInfo) *Catalog {
	c := &Catalog{engines: make(map[models.Engine]EngineInfo, len(infos))}
	for _, info := range infos {
		info.CapabilityTags = append([]string{}, info.CapabilityTags...)
		c.engines[info.Engine] = info
		c.order = append(c.order, info.Engine)
	}
	// 按显示名排序，保证顺序稳定
	sort.Slice(c.order, func(i, j int) bool {
		return c.engines[c.order[i]].DisplayName < c.engines[c.order[j]].DisplayName
	})
	return c
}

// SupportedEngines 按字母序返回引擎显示名
func (c *Catalog) SupportedEngines() []string {
	names := make([]string, 0, len(c.order))
	for _, e := range c.order {
		names = append(names, c.engines[e].DisplayName)
	}
	return names
}

// Engines 按目录顺序返回全部引擎描述
func (c *Catalog) Engines() []EngineInfo {
	out := make([]EngineInfo, 0, len(c.order))
	for _, e := range c.order {
		info := c.engines[e]
		info.CapabilityTags = append([]string{}, info.CapabilityTags...)
		out = append(out, info)
	}
	return out
}

// Lookup 查找引擎
func (c *Catalog) Lookup(engine models.Engine) (EngineInfo, bool) {
	info, ok := c.engines[engine]
	return info, ok
}

// Default 没有任何能力偏好时使用的引擎（复杂度最低）
func (c *Catalog) Default() models.Engine {
	return models.EngineArcade
}
