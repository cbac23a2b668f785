package service

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/ai-game-dev/internal/config"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/models"
	"github.com/wfunc/ai-game-dev/internal/repository"
	"go.uber.org/zap"
)

// HistoryStats 历史统计
type HistoryStats struct {
	Total    int64            `json:"total"`
	ByState  map[string]int64 `json:"by_state"`
	ByEngine map[string]int64 `json:"by_engine"`
}

// HistoryService 生成历史服务：订阅任务终态事件，后台批量落库
type HistoryService struct {
	repo          repository.GenerationRecordRepository
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration

	// 以下字段只由写入协程访问
	buffer []*models.GenerationRecord

	bufferCh  chan *models.GenerationRecord
	flushCh   chan chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHistoryService 创建历史服务并启动后台写入协程
func NewHistoryService(repo repository.GenerationRecordRepository, cfg config.HistoryConfig, log *zap.Logger) *HistoryService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	s := &HistoryService{
		repo:          repo,
		logger:        log.Named("history"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		buffer:        make([]*models.GenerationRecord, 0, cfg.BatchSize),
		bufferCh:      make(chan *models.GenerationRecord, cfg.BufferSize),
		flushCh:       make(chan chan struct{}),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.backgroundWriter()
	return s
}

// OnJobEvent 只记录终态
func (s *HistoryService) OnJobEvent(ev game.JobEvent) {
	switch ev.Type {
	case game.EventSucceeded, game.EventFailed:
		s.Record(ev.Job)
	}
}

// Record 异步写入一条终态快照，缓冲区满时丢弃
func (s *HistoryService) Record(snap models.JobSnapshot) {
	if !snap.State.IsTerminal() {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}

	select {
	case s.bufferCh <- models.NewGenerationRecord(snap):
	default:
		s.logger.Warn("历史缓冲区满，丢弃记录", zap.Int("handle", snap.Handle), zap.String("job_id", snap.JobID))
	}
}

// backgroundWriter 后台写入协程
func (s *HistoryService) backgroundWriter() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-s.bufferCh:
			s.buffer = append(s.buffer, rec)
			// 缓冲区满了立即写入
			if len(s.buffer) >= s.batchSize {
				s.flushBuffer()
			}

		case <-ticker.C:
			s.flushBuffer()

		case reply := <-s.flushCh:
			s.drain()
			s.flushBuffer()
			close(reply)

		case <-s.stopCh:
			// 退出前写入剩余记录
			s.drain()
			s.flushBuffer()
			return
		}
	}
}

func (s *HistoryService) drain() {
	for {
		select {
		case rec := <-s.bufferCh:
			s.buffer = append(s.buffer, rec)
		default:
			return
		}
	}
}

// flushBuffer 写入缓冲区的记录
func (s *HistoryService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.CreateBatch(ctx, s.buffer); err != nil {
		s.logger.Error("批量写入生成历史失败", zap.Int("count", len(s.buffer)), zap.Error(err))
	} else {
		s.logger.Debug("批量写入生成历史成功", zap.Int("count", len(s.buffer)))
	}

	// 清空缓冲区
	s.buffer = s.buffer[:0]
}

// Flush 等待已提交的记录全部写入
func (s *HistoryService) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.flushCh <- reply:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List 分页查询历史
func (s *HistoryService) List(ctx context.Context, filter repository.HistoryFilter, page, pageSize int) ([]*models.GenerationRecord, *repository.Pagination, error) {
	p := repository.NewPagination(page, pageSize)
	recs, err := s.repo.List(ctx, filter, p)
	if err != nil {
		return nil, nil, err
	}
	return recs, p, nil
}

// GetByJobID 根据任务ID查询
func (s *HistoryService) GetByJobID(ctx context.Context, jobID string) (*models.GenerationRecord, error) {
	return s.repo.FindByJobID(ctx, jobID)
}

// GetByHandle 根据句柄查询最近一条
func (s *HistoryService) GetByHandle(ctx context.Context, handle int) (*models.GenerationRecord, error) {
	return s.repo.FindByHandle(ctx, handle)
}

// Stats 历史统计
func (s *HistoryService) Stats(ctx context.Context) (*HistoryStats, error) {
	byState, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	byEngine, err := s.repo.CountByEngine(ctx)
	if err != nil {
		return nil, err
	}
	stats := &HistoryStats{ByState: byState, ByEngine: byEngine}
	for _, n := range byState {
		stats.Total += n
	}
	return stats, nil
}

// Cleanup 删除超过保留天数的记录
func (s *HistoryService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteBefore(ctx, time.Now().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("清理过期生成历史", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	}
	return n, nil
}

// Close 停止写入协程并写入剩余记录
func (s *HistoryService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}
