// Package synth 内容生成后端
//
// 核心引擎只依赖 Synthesizer 接口，具体由模板后端或模型后端实现。
package synth

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/wfunc/ai-game-dev/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrEmptyDescription 描述为空
var ErrEmptyDescription = errors.New("description cannot be empty")

// Request 生成请求
type Request struct {
	Description    string
	Engine         models.Engine
	Complexity     models.Complexity
	TargetAudience string
	Features       []string
}

// HasFeature 是否请求了某个特性
func (r Request) HasFeature(name string) bool {
	for _, f := range r.Features {
		if f == name {
			return true
		}
	}
	return false
}

// File 单个生成文件，Path 为相对路径
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Artifacts 生成产物
type Artifacts struct {
	Title string `json:"title"`
	Files []File `json:"files"`
}

// Paths 文件相对路径列表
func (a *Artifacts) Paths() []string {
	out := make([]string, 0, len(a.Files))
	for _, f := range a.Files {
		out = append(out, f.Path)
	}
	return out
}

// Synthesizer 内容生成后端
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Artifacts, error)
}

// Func 函数适配器
type Func func(ctx context.Context, req Request) (*Artifacts, error)

// Name 后端名称
func (f Func) Name() string { return "func" }

// Synthesize 调用函数本身
func (f Func) Synthesize(ctx context.Context, req Request) (*Artifacts, error) {
	return f(ctx, req)
}

// Registry 按引擎登记后端，未登记的引擎使用默认后端
type Registry struct {
	mu       sync.RWMutex
	byEngine map[models.Engine]Synthesizer
	fallback Synthesizer
}

// NewRegistry 创建后端注册表
func NewRegistry(fallback Synthesizer) *Registry {
	return &Registry{
		byEngine: make(map[models.Engine]Synthesizer),
		fallback: fallback,
	}
}

// Register 为指定引擎登记后端
func (r *Registry) Register(engine models.Engine, s Synthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEngine[engine] = s
}

// Lookup 查找引擎对应的后端
func (r *Registry) Lookup(engine models.Engine) (Synthesizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byEngine[engine]; ok {
		return s, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Backends 已登记的后端名称，按引擎
func (r *Registry) Backends() map[models.Engine]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.Engine]string, len(r.byEngine))
	for e, s := range r.byEngine {
		out[e] = s.Name()
	}
	return out
}

var titleCaser = cases.Title(language.English)

// Title 由描述生成标题: "AI Generated" 加前三个词
func Title(description string) string {
	words := strings.Fields(description)
	if len(words) == 0 {
		return "AI Generated Game"
	}
	if len(words) > 3 {
		words = words[:3]
	}
	var b strings.Builder
	b.WriteString("AI Generated")
	for _, w := range words {
		b.WriteByte(' ')
		b.WriteString(titleCaser.String(strings.ToLower(w)))
	}
	return b.String()
}

// ValidatePath 校验生成文件路径：相对路径且不能越出输出目录
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty file path")
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("file path %q must use forward slashes", p)
	}
	if path.IsAbs(p) {
		return fmt.Errorf("file path %q must be relative", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("file path %q escapes the output directory", p)
	}
	if clean != p {
		return fmt.Errorf("file path %q is not canonical", p)
	}
	return nil
}

// ValidateArtifacts 校验产物：至少一个文件，路径合法且不重复
func ValidateArtifacts(a *Artifacts) error {
	if a == nil || len(a.Files) == 0 {
		return fmt.Errorf("backend produced no files")
	}
	seen := make(map[string]struct{}, len(a.Files))
	for _, f := range a.Files {
		if err := ValidatePath(f.Path); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("duplicate file path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	return nil
}
