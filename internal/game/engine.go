package game

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game/synth"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// EngineOptions 生成引擎参数
type EngineOptions struct {
	OutputRoot string
	WriteFiles bool
	FS         afero.Fs
	Logger     *zap.Logger

	// 输出目录分配器，为空时新建；Process 跨重新初始化共享同一个
	dirs *dirAllocator
}

// Engine 编排一次生成：登记 -> 运行 -> 终态
type Engine struct {
	registry  *Registry
	synths    *synth.Registry
	observers *observerSet
	dirs      *dirAllocator
	fs        afero.Fs
	write     bool
	logger    *zap.Logger

	// 生命周期上下文，清理时取消
	ctx context.Context
}

func newEngine(ctx context.Context, registry *Registry, synths *synth.Registry, observers *observerSet, opts EngineOptions) *Engine {
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dirs := opts.dirs
	if dirs == nil {
		dirs = newDirAllocator(fs, opts.OutputRoot)
	}
	return &Engine{
		registry:  registry,
		synths:    synths,
		observers: observers,
		dirs:      dirs,
		fs:        fs,
		write:     opts.WriteFiles,
		logger:    log,
		ctx:       ctx,
	}
}

// Generate 同步生成，返回终态快照；只有登记失败时返回错误
func (e *Engine) Generate(ctx context.Context, description string, cfg models.ResolvedConfig) (models.JobSnapshot, error) {
	job, err := e.submit(description, cfg)
	if err != nil {
		return models.JobSnapshot{}, err
	}

	// 调用方取消或进程清理都会中止生成
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	e.run(runCtx, job)
	return job.Snapshot(), nil
}

// submit 创建并登记任务，容量淘汰的旧任务先发出 evicted 事件
func (e *Engine) submit(description string, cfg models.ResolvedConfig) (*Job, error) {
	job := NewJob(description, cfg)
	_, evicted, err := e.registry.Admit(job)
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		e.observers.publish(EventEvicted, *evicted)
	}
	e.observers.publish(EventSubmitted, job.Snapshot())
	return job, nil
}

// run 执行已登记的任务，直到终态
func (e *Engine) run(ctx context.Context, job *Job) {
	if err := job.Start(); err != nil {
		e.logger.Error("任务启动失败", zap.Int("handle", job.Handle()), zap.Error(err))
		return
	}
	e.observers.publish(EventStarted, job.Snapshot())

	result, err := e.produce(ctx, job)
	if err != nil {
		e.fail(job, apperr.Message(err))
		return
	}
	if err := job.Succeed(result); err != nil {
		e.fail(job, err.Error())
		return
	}
	e.observers.publish(EventSucceeded, job.Snapshot())
}

func (e *Engine) fail(job *Job, message string) {
	cfg := job.Config()
	result := models.NewFailedResult(synth.Title(job.Description()), job.Description(), cfg.Engine, message)
	if err := job.Fail(message, result); err != nil {
		e.logger.Error("任务失败状态写入失败", zap.Int("handle", job.Handle()), zap.Error(err))
		return
	}
	e.observers.publish(EventFailed, job.Snapshot())
}

// produce 调用生成后端并落盘
func (e *Engine) produce(ctx context.Context, job *Job) (*models.GameResult, error) {
	cfg := job.Config()
	backend, ok := e.synths.Lookup(cfg.Engine)
	if !ok {
		return nil, apperr.Newf(apperr.ErrGeneration, "no synthesis backend for engine %s", cfg.Engine)
	}

	artifacts, err := e.synthesize(ctx, backend, synth.Request{
		Description:    job.Description(),
		Engine:         cfg.Engine,
		Complexity:     cfg.Complexity,
		TargetAudience: cfg.TargetAudience,
		Features:       cfg.Features,
	})
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := synth.ValidateArtifacts(artifacts); err != nil {
		return nil, err
	}

	title := artifacts.Title
	if title == "" {
		title = synth.Title(job.Description())
	}
	dir := e.dirs.reserve(title)
	if e.write {
		if err := e.writeArtifacts(dir, artifacts); err != nil {
			_ = e.fs.RemoveAll(dir)
			e.dirs.release(dir)
			return nil, err
		}
	}

	return &models.GameResult{
		Title:           title,
		Description:     job.Description(),
		Engine:          string(cfg.Engine),
		Success:         true,
		FilesGenerated:  artifacts.Paths(),
		OutputDirectory: dir,
	}, nil
}

// canceled 调用方取消或进程清理
func canceled(ctx context.Context) error {
	return apperr.Wrap(context.Cause(ctx), apperr.ErrCanceled)
}

// synthesize 调用后端，后端 panic 视为失败
func (e *Engine) synthesize(ctx context.Context, backend synth.Synthesizer, req synth.Request) (out *synth.Artifacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("生成后端panic", zap.String("backend", backend.Name()), zap.Any("panic", r))
			out, err = nil, apperr.Newf(apperr.ErrGeneration, "synthesizer %s panicked: %v", backend.Name(), r)
		}
	}()
	return backend.Synthesize(ctx, req)
}

func (e *Engine) writeArtifacts(dir string, a *synth.Artifacts) error {
	if err := e.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, f := range a.Files {
		full := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := e.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		if err := afero.WriteFile(e.fs, full, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// dirAllocator 输出目录分配，同名时追加 _2、_3
type dirAllocator struct {
	mu       sync.Mutex
	fs       afero.Fs
	root     string
	reserved map[string]struct{}
}

func newDirAllocator(fs afero.Fs, root string) *dirAllocator {
	return &dirAllocator{fs: fs, root: root, reserved: make(map[string]struct{})}
}

func (d *dirAllocator) reserve(title string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := synth.Slug(title)
	for n := 1; ; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		dir := filepath.Join(d.root, name)
		if _, taken := d.reserved[dir]; taken {
			continue
		}
		if exists, _ := afero.Exists(d.fs, dir); exists {
			continue
		}
		d.reserved[dir] = struct{}{}
		return dir
	}
}

func (d *dirAllocator) release(dir string) {
	d.mu.Lock()
	delete(d.reserved, dir)
	d.mu.Unlock()
}
