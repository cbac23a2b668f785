package game

import (
	"sort"
	"sync"
	"sync/atomic"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
)

// Sequence 句柄序列，进程生命周期内单调递增，不随清理重置
type Sequence struct {
	next atomic.Int64
}

// Next 取下一个句柄
func (s *Sequence) Next() int {
	return int(s.next.Add(1) - 1)
}

// Peek 下一个将要分配的句柄
func (s *Sequence) Peek() int {
	return int(s.next.Load())
}

// Registry 句柄 -> 任务
type Registry struct {
	mu      sync.RWMutex
	jobs    map[int]*Job
	order   []int // 按登记顺序
	seq     *Sequence
	maxJobs int // 0 表示不限
}

// NewRegistry 创建任务注册表
func NewRegistry(seq *Sequence, maxJobs int) *Registry {
	if seq == nil {
		seq = &Sequence{}
	}
	return &Registry{
		jobs:    make(map[int]*Job),
		seq:     seq,
		maxJobs: maxJobs,
	}
}

// Register 登记任务并分配句柄，容量满时淘汰最早的终态任务
func (r *Registry) Register(job *Job) (int, error) {
	handle, _, err := r.Admit(job)
	return handle, err
}

// Admit 同 Register，另外返回因容量被淘汰的任务快照
func (r *Registry) Admit(job *Job) (int, *models.JobSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *models.JobSnapshot
	if r.maxJobs > 0 && len(r.jobs) >= r.maxJobs {
		old := r.evictOldestLocked()
		if old == nil {
			return -1, nil, apperr.Newf(apperr.ErrResourceExhausted, "job registry full (%d jobs)", r.maxJobs)
		}
		snap := old.Snapshot()
		evicted = &snap
	}

	handle := r.seq.Next()
	job.setHandle(handle)
	r.jobs[handle] = job
	r.order = append(r.order, handle)
	return handle, evicted, nil
}

func (r *Registry) evictOldestLocked() *Job {
	for i, h := range r.order {
		job := r.jobs[h]
		if job.State().IsTerminal() {
			delete(r.jobs, h)
			r.order = append(r.order[:i], r.order[i+1:]...)
			return job
		}
	}
	return nil
}

// Get 任务快照
func (r *Registry) Get(handle int) (models.JobSnapshot, error) {
	job, err := r.lookup(handle)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

func (r *Registry) lookup(handle int) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[handle]
	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "handle %d", handle)
	}
	return job, nil
}

// Evict 移除终态任务
func (r *Registry) Evict(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[handle]
	if !ok {
		return apperr.Newf(apperr.ErrNotFound, "handle %d", handle)
	}
	if state := job.State(); !state.IsTerminal() {
		return apperr.Newf(apperr.ErrJobNotTerminal, "handle %d is %s", handle, state)
	}

	delete(r.jobs, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len 当前任务数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshots 按句柄顺序列出所有任务
func (r *Registry) Snapshots() []models.JobSnapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]models.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Handle < out[k].Handle })
	return out
}

// CountByState 各状态任务数
func (r *Registry) CountByState() map[models.JobState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.JobState]int, 4)
	for _, j := range r.jobs {
		out[j.State()]++
	}
	return out
}

// Clear 释放全部任务，返回释放数量
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.jobs)
	r.jobs = make(map[int]*Job)
	r.order = nil
	return n
}
