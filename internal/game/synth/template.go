package synth

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/Masterminds/sprig"
	"github.com/iancoleman/strcase"
	"github.com/wfunc/ai-game-dev/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

// TemplateName 模板后端名称
const TemplateName = "template"

// templateFile 模板集中的单个文件
type templateFile struct {
	Path       string            `yaml:"path"`
	Complexity models.Complexity `yaml:"complexity"` // 最低复杂度，空表示 simple
	Feature    string            `yaml:"feature"`    // 仅在请求该特性时生成
	Content    string            `yaml:"content"`
}

// templateSet 一个引擎的模板集
type templateSet struct {
	Engine models.Engine  `yaml:"engine"`
	Files  []templateFile `yaml:"files"`
}

type compiledFile struct {
	templateFile
	tmpl *template.Template
}

// TemplateSynthesizer 基于内置模板的生成后端
type TemplateSynthesizer struct {
	sets map[models.Engine][]compiledFile
}

// NewTemplateSynthesizer 加载内置模板
func NewTemplateSynthesizer() (*TemplateSynthesizer, error) {
	sub, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, err
	}
	return NewTemplateSynthesizerFS(sub)
}

// NewTemplateSynthesizerFS 从文件系统加载 *.yaml 模板集
func NewTemplateSynthesizerFS(fsys fs.FS) (*TemplateSynthesizer, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no template sets found")
	}

	t := &TemplateSynthesizer{sets: make(map[models.Engine][]compiledFile)}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read template set %s: %w", name, err)
		}
		if err := t.load(name, data); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *TemplateSynthesizer) load(name string, data []byte) error {
	var set templateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parse template set %s: %w", name, err)
	}
	if set.Engine == "" {
		return fmt.Errorf("template set %s: missing engine", name)
	}
	if _, dup := t.sets[set.Engine]; dup {
		return fmt.Errorf("template set %s: engine %s already loaded", name, set.Engine)
	}

	files := make([]compiledFile, 0, len(set.Files))
	for _, f := range set.Files {
		if err := ValidatePath(f.Path); err != nil {
			return fmt.Errorf("template set %s: %w", name, err)
		}
		tmpl, err := template.New(f.Path).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(f.Content)
		if err != nil {
			return fmt.Errorf("template set %s: parse %s: %w", name, f.Path, err)
		}
		files = append(files, compiledFile{templateFile: f, tmpl: tmpl})
	}
	t.sets[set.Engine] = files
	return nil
}

// Name 后端名称
func (t *TemplateSynthesizer) Name() string { return TemplateName }

// Engines 有模板的引擎
func (t *TemplateSynthesizer) Engines() []models.Engine {
	out := make([]models.Engine, 0, len(t.sets))
	for e := range t.sets {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Synthesize 渲染模板集
func (t *TemplateSynthesizer) Synthesize(ctx context.Context, req Request) (*Artifacts, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrEmptyDescription
	}
	files, ok := t.sets[req.Engine]
	if !ok {
		return nil, fmt.Errorf("no templates for engine %s", req.Engine)
	}

	data := newTemplateData(req)
	out := &Artifacts{Title: data.Title}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !data.HasComplexity(string(f.Complexity)) {
			continue
		}
		if f.Feature != "" && !req.HasFeature(f.Feature) {
			continue
		}

		var buf bytes.Buffer
		if err := f.tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", f.Path, err)
		}
		out.Files = append(out.Files, File{Path: f.Path, Content: buf.String()})
	}

	if err := ValidateArtifacts(out); err != nil {
		return nil, err
	}
	return out, nil
}

// templateData 模板上下文
type templateData struct {
	Title          string
	Description    string
	Engine         string
	Complexity     string
	TargetAudience string
	Features       []string
	Slug           string // snake_case
	Kebab          string
	Pascal         string

	rank int
	req  Request
}

func newTemplateData(req Request) templateData {
	title := Title(req.Description)
	base := Slug(title)
	complexity := req.Complexity
	if complexity == "" {
		complexity = models.ComplexityIntermediate
	}
	return templateData{
		Title:          title,
		Description:    strings.TrimSpace(req.Description),
		Engine:         string(req.Engine),
		Complexity:     string(complexity),
		TargetAudience: req.TargetAudience,
		Features:       append([]string{}, req.Features...),
		Slug:           base,
		Kebab:          strings.ReplaceAll(base, "_", "-"),
		Pascal:         strcase.ToCamel(base),
		rank:           complexity.Rank(),
		req:            req,
	}
}

// Has 是否请求了某个特性
func (d templateData) Has(feature string) bool {
	return d.req.HasFeature(feature)
}

// HasComplexity 当前复杂度是否不低于 level
func (d templateData) HasComplexity(level string) bool {
	if level == "" {
		return true
	}
	return d.rank >= models.Complexity(level).Rank()
}

// Slug 标题转 snake_case 目录名，只保留字母数字
func Slug(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '_', r == '-':
			return ' '
		default:
			return -1
		}
	}, title)
	// 按空白切词，词内的数字字母不再拆开（3d 保持 3d）
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return "ai_game"
	}
	return strings.Join(words, "_")
}
