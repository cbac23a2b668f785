package game

import (
	"regexp"
	"strings"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
)

// KnownFeatures 允许的特性
var KnownFeatures = []string{
	"achievements",
	"animation",
	"audio",
	"combat",
	"dialogue",
	"enemies",
	"inventory",
	"leaderboard",
	"multiplayer",
	"particles",
	"physics",
	"procedural_generation",
	"save_system",
	"ui",
}

// keywordTags 描述关键词 -> 能力标签
var keywordTags = map[string][]string{
	Tag3D:          {"3d", "three dimensional", "first person", "third person", "fps", "voxel", "open world"},
	TagPhysics:     {"physics", "collision", "ragdoll", "rigid body", "simulation"},
	TagPerformance: {"thousands", "swarm", "bullet hell", "performance"},
	TagNetworking:  {"multiplayer", "online", "co-op", "coop", "pvp", "mmo"},
	TagUI:          {"dialogue", "visual novel", "inventory", "quest", "menu"},
}

// featureTags 特性 -> 能力标签
var featureTags = map[string]string{
	"physics":     TagPhysics,
	"multiplayer": TagNetworking,
	"dialogue":    TagUI,
	"inventory":   TagUI,
	"ui":          TagUI,
}

// Resolver 配置校验与引擎自动选择
type Resolver struct {
	catalog  *Catalog
	features map[string]struct{}
	patterns map[string][]*regexp.Regexp
}

// NewResolver 创建配置解析器
func NewResolver(catalog *Catalog) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		features: make(map[string]struct{}, len(KnownFeatures)),
		patterns: make(map[string][]*regexp.Regexp, len(keywordTags)),
	}
	for _, f := range KnownFeatures {
		r.features[f] = struct{}{}
	}
	for tag, words := range keywordTags {
		for _, w := range words {
			// 按整词匹配，短语内空白可以是任意空白
			expr := `(?i)(^|[^a-z0-9])` + strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`) + `($|[^a-z0-9])`
			r.patterns[tag] = append(r.patterns[tag], regexp.MustCompile(expr))
		}
	}
	return r
}

// Resolve 校验配置并确定具体引擎
func (r *Resolver) Resolve(cfg models.GameConfig, description string) (models.ResolvedConfig, error) {
	engine := cfg.Engine
	if engine == "" {
		engine = models.EngineAuto
	}
	if engine != models.EngineAuto {
		if _, ok := r.catalog.Lookup(engine); !ok {
			return models.ResolvedConfig{}, unknownValue("engine", string(engine))
		}
	}

	complexity := cfg.Complexity
	switch complexity {
	case "":
		complexity = models.ComplexityIntermediate
	case models.ComplexitySimple, models.ComplexityIntermediate, models.ComplexityAdvanced:
	default:
		return models.ResolvedConfig{}, unknownValue("complexity", string(complexity))
	}

	features := make([]string, 0, len(cfg.Features))
	seen := make(map[string]struct{}, len(cfg.Features))
	for _, f := range cfg.Features {
		if _, ok := r.features[f]; !ok {
			return models.ResolvedConfig{}, unknownValue("features", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		features = append(features, f)
	}

	resolved := models.ResolvedConfig{
		Engine:         engine,
		Complexity:     complexity,
		TargetAudience: cfg.TargetAudience,
		Features:       features,
	}
	if engine == models.EngineAuto {
		resolved.Engine = r.SelectEngine(description, features)
		resolved.AutoSelected = true
	}
	return resolved, nil
}

// SelectEngine 按能力标签重合度选择引擎，平分时取目录顺序靠前者，无偏好时为默认引擎
func (r *Resolver) SelectEngine(description string, features []string) models.Engine {
	wanted := r.WantedTags(description, features)
	if len(wanted) == 0 {
		return r.catalog.Default()
	}

	best, bestScore := r.catalog.Default(), 0
	for _, info := range r.catalog.Engines() {
		score := 0
		for tag := range wanted {
			if info.HasTag(tag) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = info.Engine, score
		}
	}
	return best
}

// WantedTags 从描述和特性中收集能力标签
func (r *Resolver) WantedTags(description string, features []string) map[string]struct{} {
	wanted := make(map[string]struct{})
	for tag, patterns := range r.patterns {
		for _, p := range patterns {
			if p.MatchString(description) {
				wanted[tag] = struct{}{}
				break
			}
		}
	}
	for _, f := range features {
		if tag, ok := featureTags[f]; ok {
			wanted[tag] = struct{}{}
		}
	}
	return wanted
}

func unknownValue(field, value string) *apperr.AppError {
	return apperr.Newf(apperr.ErrUnknownValue, "%s=%q", field, value)
}
