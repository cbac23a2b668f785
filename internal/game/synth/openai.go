package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	openai "github.com/sashabaranov/go-openai"
	"github.com/wfunc/ai-game-dev/internal/config"
	"go.uber.org/zap"
)

// DefaultModel 未配置时使用的模型
const DefaultModel = "gpt-4o-mini"

// OpenAIName 模型后端名称
const OpenAIName = "openai"

const systemPrompt = `You generate small, runnable game projects.
Reply with a single JSON object and nothing else:
{"title": string, "files": [{"path": string, "content": string}]}
Paths are relative, use forward slashes and never contain "..".`

var userPrompt = template.Must(template.New("prompt").Funcs(sprig.TxtFuncMap()).Parse(
	`Engine: {{ .Engine }}
Complexity: {{ .Complexity | default "intermediate" }}
{{- with .TargetAudience }}
Target audience: {{ . }}
{{- end }}
{{- if .Features }}
Features: {{ .Features | join ", " }}
{{- end }}
Suggested title: {{ .Title }}

Game description:
{{ .Description | trimAll " \n" }}
`))

// OpenAISynthesizer 通过 chat completions 生成项目文件
type OpenAISynthesizer struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOpenAISynthesizer 创建模型后端
func NewOpenAISynthesizer(cfg config.OpenAIConfig, log *zap.Logger) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAISynthesizer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      log.Named("openai"),
	}, nil
}

// Name 后端名称
func (o *OpenAISynthesizer) Name() string { return OpenAIName }

// Synthesize 请求模型生成文件清单
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (*Artifacts, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrEmptyDescription
	}

	var prompt bytes.Buffer
	if err := userPrompt.Execute(&prompt, map[string]interface{}{
		"Engine":         string(req.Engine),
		"Complexity":     string(req.Complexity),
		"TargetAudience": req.TargetAudience,
		"Features":       req.Features,
		"Title":          Title(req.Description),
		"Description":    req.Description,
	}); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	o.logger.Debug("收到模型回复",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	artifacts, err := parseManifest(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(artifacts.Title) == "" {
		artifacts.Title = Title(req.Description)
	}
	return artifacts, nil
}

// parseManifest 解析模型返回的JSON清单，容忍 markdown 代码块包裹
func parseManifest(content string) (*Artifacts, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var out Artifacts
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("invalid manifest from model: %w", err)
	}
	if err := ValidateArtifacts(&out); err != nil {
		return nil, fmt.Errorf("invalid manifest from model: %w", err)
	}
	return &out, nil
}
