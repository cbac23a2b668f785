package game

import (
	"sync"
	"time"

	"github.com/wfunc/ai-game-dev/internal/logger"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

// EventType 任务事件类型
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	EventEvicted   EventType = "evicted"
)

// JobEvent 任务状态变化事件
type JobEvent struct {
	Type EventType          `json:"type"`
	Job  models.JobSnapshot `json:"job"`
	Time time.Time          `json:"time"`
}

// Observer 任务事件订阅者
type Observer interface {
	OnJobEvent(ev JobEvent)
}

// ObserverFunc 函数适配器
type ObserverFunc func(ev JobEvent)

// OnJobEvent 调用函数本身
func (f ObserverFunc) OnJobEvent(ev JobEvent) { f(ev) }

// observerSet 订阅者集合，跨重新初始化保留
type observerSet struct {
	mu     sync.RWMutex
	list   []Observer
	logger *zap.Logger
}

func newObserverSet(log *zap.Logger) *observerSet {
	return &observerSet{logger: log}
}

func (s *observerSet) add(o Observer) {
	s.mu.Lock()
	s.list = append(s.list, o)
	s.mu.Unlock()
}

// publish 同步通知所有订阅者，单个订阅者 panic 不影响其他订阅者
func (s *observerSet) publish(t EventType, snap models.JobSnapshot) {
	s.mu.RLock()
	list := append([]Observer(nil), s.list...)
	s.mu.RUnlock()

	ev := JobEvent{Type: t, Job: snap, Time: time.Now()}
	for _, o := range list {
		s.notify(o, ev)
	}
}

func (s *observerSet) notify(o Observer, ev JobEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("事件订阅者panic",
				zap.Any("panic", r),
				zap.String("event", string(ev.Type)),
				zap.Int("handle", ev.Job.Handle))
		}
	}()
	o.OnJobEvent(ev)
}

// LogObserver 将任务事件写入日志
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver 创建日志订阅者
func NewLogObserver(log *zap.Logger) *LogObserver {
	return &LogObserver{logger: log}
}

// OnJobEvent 记录事件
func (l *LogObserver) OnJobEvent(ev JobEvent) {
	fields := []zap.Field{
		zap.String("job_id", ev.Job.JobID),
		zap.String("engine", string(ev.Job.Config.Engine)),
		zap.String("state", string(ev.Job.State)),
	}
	if ev.Job.Config.AutoSelected {
		fields = append(fields, zap.Bool("auto_selected", true))
	}
	if ev.Job.Error != "" {
		fields = append(fields, zap.String("error", ev.Job.Error))
	}
	if d := ev.Job.Duration(); d > 0 {
		fields = append(fields, zap.Duration("duration", d))
	}
	logger.LogJobEvent(l.logger, string(ev.Type), ev.Job.Handle, fields...)
}
