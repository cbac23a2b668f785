package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/ai-game-dev/internal/models"
)

// 允许的状态转换
var jobTransitions = map[models.JobState][]models.JobState{
	models.JobPending: {models.JobRunning},
	models.JobRunning: {models.JobSucceeded, models.JobFailed},
}

// Job 一次生成请求
type Job struct {
	mu sync.RWMutex

	handle      int
	jobID       string
	state       models.JobState
	description string
	config      models.ResolvedConfig
	result      *models.GameResult
	errMsg      string
	createdAt   time.Time
	startedAt   *time.Time
	finishedAt  *time.Time
}

// NewJob 创建待执行任务，句柄在登记时分配
func NewJob(description string, cfg models.ResolvedConfig) *Job {
	return &Job{
		handle:      -1,
		jobID:       uuid.New().String(),
		state:       models.JobPending,
		description: description,
		config:      cfg.Clone(),
		createdAt:   time.Now(),
	}
}

// Handle 任务句柄
func (j *Job) Handle() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.handle
}

// ID 任务唯一ID
func (j *Job) ID() string {
	return j.jobID
}

// State 当前状态
func (j *Job) State() models.JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Description 游戏描述
func (j *Job) Description() string {
	return j.description
}

// Config 解析后的配置
func (j *Job) Config() models.ResolvedConfig {
	return j.config.Clone()
}

func (j *Job) setHandle(h int) {
	j.mu.Lock()
	j.handle = h
	j.mu.Unlock()
}

// Start Pending -> Running
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(models.JobRunning); err != nil {
		return err
	}
	now := time.Now()
	j.startedAt = &now
	return nil
}

// Succeed Running -> Succeeded
func (j *Job) Succeed(result *models.GameResult) error {
	if result == nil || !result.Success {
		return fmt.Errorf("job %d: success requires a successful result", j.Handle())
	}
	if err := result.Validate(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(models.JobSucceeded); err != nil {
		return err
	}
	j.result = result.Clone()
	j.finish()
	return nil
}

// Fail Running -> Failed，result 可以为空
func (j *Job) Fail(message string, result *models.GameResult) error {
	if message == "" {
		message = "generation failed"
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(models.JobFailed); err != nil {
		return err
	}
	if result == nil {
		result = models.NewFailedResult("", j.description, j.config.Engine, message)
	} else {
		result = result.Clone()
		result.Success = false
		result.FilesGenerated = []string{}
		result.ErrorMessage = message
	}
	j.result = result
	j.errMsg = message
	j.finish()
	return nil
}

// transition 调用方需持有写锁
func (j *Job) transition(to models.JobState) error {
	for _, allowed := range jobTransitions[j.state] {
		if allowed == to {
			j.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", j.state, to)
}

func (j *Job) finish() {
	now := time.Now()
	j.finishedAt = &now
}

// Snapshot 当前状态的深拷贝
func (j *Job) Snapshot() models.JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := models.JobSnapshot{
		Handle:      j.handle,
		JobID:       j.jobID,
		State:       j.state,
		Description: j.description,
		Config:      j.config.Clone(),
		Result:      j.result.Clone(),
		Error:       j.errMsg,
		CreatedAt:   j.createdAt,
	}
	if j.startedAt != nil {
		t := *j.startedAt
		s.StartedAt = &t
	}
	if j.finishedAt != nil {
		t := *j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
