package game

import (
	"context"
	"sync"
	"sync/atomic"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// Scheduler 异步生成工作池
type Scheduler struct {
	engine  *Engine
	workers int

	// 排队中的任务，slots 为入队名额，先占名额再登记
	queue chan *Job
	slots chan struct{}

	// Stop 之后 Submit 不再登记任务
	mu     sync.RWMutex
	closed bool

	running atomic.Int32
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

func newScheduler(engine *Engine, workers, queueSize int, log *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &Scheduler{
		engine:  engine,
		workers: workers,
		queue:   make(chan *Job, queueSize),
		slots:   make(chan struct{}, queueSize),
		logger:  log,
	}
}

// Start 启动工作协程
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Debug("工作池已启动", zap.Int("workers", s.workers), zap.Int("queue_size", cap(s.queue)))
}

// Submit 登记任务并放入队列，队列满或已停止时不登记
func (s *Scheduler) Submit(description string, cfg models.ResolvedConfig) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.ctx == nil || s.ctx.Err() != nil {
		return -1, apperr.New(apperr.ErrNotInitialized)
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return -1, apperr.Newf(apperr.ErrResourceExhausted, "generation queue is full (%d jobs waiting)", cap(s.queue))
	}

	job, err := s.engine.submit(description, cfg)
	if err != nil {
		<-s.slots
		return -1, err
	}

	// 持有名额时入队不会阻塞
	s.queue <- job
	return job.Handle(), nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.queue:
			<-s.slots
			if s.ctx.Err() != nil {
				return
			}
			s.running.Add(1)
			s.engine.run(s.ctx, job)
			s.running.Add(-1)
		}
	}
}

// Stop 取消上下文并等待运行中的任务结束，队列中的任务被丢弃
func (s *Scheduler) Stop() {
	// 拿到写锁时进行中的 Submit 都已入队，下面统一清空
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	dropped := 0
	for {
		select {
		case <-s.queue:
			<-s.slots
			dropped++
		default:
			if dropped > 0 {
				s.logger.Info("丢弃排队中的任务", zap.Int("count", dropped))
			}
			return
		}
	}
}

// Queued 排队中的任务数
func (s *Scheduler) Queued() int {
	return len(s.queue)
}

// Running 运行中的任务数
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}
