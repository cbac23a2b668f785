package game

import (
	"context"
	"sync"

	"github.com/spf13/afero"
	"github.com/wfunc/ai-game-dev/internal/config"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game/synth"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// Version 服务版本
const Version = "1.0.0"

type processState int

const (
	stateUninitialized processState = iota
	stateReady
	stateFailed
)

// Options 进程参数
type Options struct {
	OutputRoot string
	WriteFiles bool
	Workers    int
	QueueSize  int
	MaxJobs    int

	FS           afero.Fs
	Synthesizers *synth.Registry
	Logger       *zap.Logger
}

// OptionsFromConfig 由生成配置构造参数，后端注册表由调用方提供
func OptionsFromConfig(cfg config.GenerationConfig, synths *synth.Registry, log *zap.Logger) Options {
	return Options{
		OutputRoot:   cfg.OutputDir,
		WriteFiles:   cfg.WriteFiles,
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		MaxJobs:      cfg.MaxJobs,
		Synthesizers: synths,
		Logger:       log,
	}
}

// Stats 运行状态
type Stats struct {
	Initialized bool                    `json:"initialized"`
	Failed      bool                    `json:"failed"`
	Jobs        int                     `json:"jobs"`
	ByState     map[models.JobState]int `json:"by_state"`
	Queued      int                     `json:"queued"`
	Running     int                     `json:"running"`
	NextHandle  int                     `json:"next_handle"`
}

// Process 进程级服务上下文：初始化、清理以及所有生成操作的入口
type Process struct {
	mu    sync.RWMutex
	opts  Options
	state processState
	seq   Sequence
	dirs  *dirAllocator // 与 seq 一样跨重新初始化保留

	catalog   *Catalog
	resolver  *Resolver
	observers *observerSet
	logger    *zap.Logger

	registry  *Registry
	engine    *Engine
	scheduler *Scheduler
	cancel    context.CancelFunc
}

// NewProcess 创建未初始化的进程上下文
func NewProcess(opts Options) *Process {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = "generated_games"
	}
	catalog := NewCatalog()
	return &Process{
		opts:      opts,
		catalog:   catalog,
		resolver:  NewResolver(catalog),
		observers: newObserverSet(opts.Logger),
		logger:    opts.Logger,
		dirs:      newDirAllocator(opts.FS, opts.OutputRoot),
	}
}

// Init 初始化，已初始化时直接返回
func (p *Process) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateReady:
		return nil
	case stateFailed:
		return apperr.New(apperr.ErrAlreadyFailed)
	}

	if p.opts.Synthesizers == nil {
		p.state = stateFailed
		return apperr.New(apperr.ErrResourceExhausted, "no synthesis backend configured")
	}
	if err := p.opts.FS.MkdirAll(p.opts.OutputRoot, 0755); err != nil {
		p.state = stateFailed
		p.logger.Error("创建输出目录失败", zap.String("path", p.opts.OutputRoot), zap.Error(err))
		return apperr.Wrapf(err, apperr.ErrResourceExhausted, "create output root %s: %v", p.opts.OutputRoot, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.registry = NewRegistry(&p.seq, p.opts.MaxJobs)
	p.engine = newEngine(ctx, p.registry, p.opts.Synthesizers, p.observers, EngineOptions{
		OutputRoot: p.opts.OutputRoot,
		WriteFiles: p.opts.WriteFiles,
		FS:         p.opts.FS,
		Logger:     p.logger,
		dirs:       p.dirs,
	})
	p.scheduler = newScheduler(p.engine, p.opts.Workers, p.opts.QueueSize, p.logger)
	p.scheduler.Start(ctx)
	p.cancel = cancel
	p.state = stateReady

	p.logger.Info("生成进程初始化完成",
		zap.String("output_root", p.opts.OutputRoot),
		zap.Bool("write_files", p.opts.WriteFiles),
		zap.Int("workers", p.scheduler.workers),
		zap.Int("max_jobs", p.opts.MaxJobs),
		zap.Strings("engines", p.catalog.SupportedEngines()),
	)
	return nil
}

// Teardown 释放全部任务并停止工作池，未初始化时无操作
func (p *Process) Teardown() {
	p.mu.Lock()
	if p.state != stateReady {
		p.mu.Unlock()
		return
	}
	cancel, scheduler, registry := p.cancel, p.scheduler, p.registry
	p.registry, p.engine, p.scheduler, p.cancel = nil, nil, nil, nil
	p.state = stateUninitialized
	p.mu.Unlock()

	cancel()
	scheduler.Stop()
	released := registry.Clear()
	p.logger.Info("生成进程已清理", zap.Int("released_jobs", released))
}

// IsInitialized 是否已初始化
func (p *Process) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateReady
}

// Catalog 引擎目录，无需初始化
func (p *Process) Catalog() *Catalog {
	return p.catalog
}

// AddObserver 订阅任务事件，跨重新初始化保留
func (p *Process) AddObserver(o Observer) {
	p.observers.add(o)
}

func (p *Process) ready() (*Engine, *Scheduler, *Registry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != stateReady {
		return nil, nil, nil, apperr.New(apperr.ErrNotInitialized)
	}
	return p.engine, p.scheduler, p.registry, nil
}

// Resolve 校验配置
func (p *Process) Resolve(cfg models.GameConfig, description string) (models.ResolvedConfig, error) {
	if _, _, _, err := p.ready(); err != nil {
		return models.ResolvedConfig{}, err
	}
	return p.resolver.Resolve(cfg, description)
}

// Generate 同步生成；配置错误在登记前返回，生成失败记录在任务中
func (p *Process) Generate(ctx context.Context, description string, cfg models.GameConfig) (models.JobSnapshot, error) {
	engine, _, _, err := p.ready()
	if err != nil {
		return models.JobSnapshot{}, err
	}
	resolved, err := p.resolver.Resolve(cfg, description)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	return engine.Generate(ctx, description, resolved)
}

// GenerateAsync 异步生成，返回句柄；之后 Get 至少能看到 Pending
func (p *Process) GenerateAsync(description string, cfg models.GameConfig) (int, error) {
	_, scheduler, _, err := p.ready()
	if err != nil {
		return -1, err
	}
	resolved, err := p.resolver.Resolve(cfg, description)
	if err != nil {
		return -1, err
	}
	return scheduler.Submit(description, resolved)
}

// Get 任务快照
func (p *Process) Get(handle int) (models.JobSnapshot, error) {
	_, _, registry, err := p.ready()
	if err != nil {
		return models.JobSnapshot{}, err
	}
	return registry.Get(handle)
}

// Evict 移除终态任务
func (p *Process) Evict(handle int) error {
	_, _, registry, err := p.ready()
	if err != nil {
		return err
	}
	snap, err := registry.Get(handle)
	if err != nil {
		return err
	}
	if err := registry.Evict(handle); err != nil {
		return err
	}
	p.observers.publish(EventEvicted, snap)
	return nil
}

// Jobs 所有任务快照
func (p *Process) Jobs() ([]models.JobSnapshot, error) {
	_, _, registry, err := p.ready()
	if err != nil {
		return nil, err
	}
	return registry.Snapshots(), nil
}

// Stats 运行状态
func (p *Process) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Initialized: p.state == stateReady,
		Failed:      p.state == stateFailed,
		ByState:     map[models.JobState]int{},
		NextHandle:  p.seq.Peek(),
	}
	if p.state == stateReady {
		s.Jobs = p.registry.Len()
		s.ByState = p.registry.CountByState()
		s.Queued = p.scheduler.Queued()
		s.Running = p.scheduler.Running()
	}
	return s
}
