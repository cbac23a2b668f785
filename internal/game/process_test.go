package game

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game/synth"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
)

const outputRoot = "games"

// ProcessTestSuite 进程级生成流程测试
type ProcessTestSuite struct {
	suite.Suite
	fs      afero.Fs
	process *Process
	events  *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []JobEvent
}

func (r *eventRecorder) OnJobEvent(ev JobEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// index 某任务某类事件在全部事件中的位置，没有时为 -1
func (r *eventRecorder) index(handle int, t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ev := range r.events {
		if ev.Job.Handle == handle && ev.Type == t {
			return i
		}
	}
	return -1
}

func (r *eventRecorder) types(handle int) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		if ev.Job.Handle == handle {
			out = append(out, ev.Type)
		}
	}
	return out
}

// failingFs 文件写入总是失败
type failingFs struct {
	afero.Fs
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return nil, errors.New("disk full")
}

func TestProcessTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessTestSuite))
}

func (s *ProcessTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
	s.process = s.newProcess(Options{FS: s.fs, WriteFiles: true}, nil)
	s.Require().NoError(s.process.Init())
}

func (s *ProcessTestSuite) TearDownTest() {
	s.process.Teardown()
}

// newProcess 创建进程，backend 为空时使用内置模板
func (s *ProcessTestSuite) newProcess(opts Options, backend synth.Synthesizer) *Process {
	if backend == nil {
		tmpl, err := synth.NewTemplateSynthesizer()
		s.Require().NoError(err)
		backend = tmpl
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = outputRoot
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	opts.Synthesizers = synth.NewRegistry(backend)
	opts.Logger = zap.NewNop()

	p := NewProcess(opts)
	s.events = &eventRecorder{}
	p.AddObserver(s.events)
	p.AddObserver(NewLogObserver(zap.NewNop()))
	return p
}

func (s *ProcessTestSuite) TestRobotPlatformerScenario() {
	snap, err := s.process.Generate(context.Background(),
		"a simple platformer where a robot jumps over lava",
		models.GameConfig{Engine: models.EngineAuto, Complexity: models.ComplexitySimple})
	s.Require().NoError(err)

	s.Equal(models.JobSucceeded, snap.State)
	s.Equal(models.EngineArcade, snap.Config.Engine)
	s.True(snap.Config.AutoSelected)
	s.Require().NotNil(snap.Result)
	s.True(snap.Result.Success)
	s.Empty(snap.Result.ErrorMessage)
	s.NotEmpty(snap.Result.FilesGenerated)
	s.Equal("Arcade", snap.Result.Engine)
	s.Equal("AI Generated A Simple Platformer", snap.Result.Title)
	s.Equal(filepath.Join(outputRoot, "ai_generated_a_simple_platformer"), snap.Result.OutputDirectory)

	for _, f := range snap.Result.FilesGenerated {
		exists, err := afero.Exists(s.fs, filepath.Join(snap.Result.OutputDirectory, f))
		s.NoError(err)
		s.True(exists, f)
	}
	s.Equal([]EventType{EventSubmitted, EventStarted, EventSucceeded}, s.events.types(snap.Handle))
}

func (s *ProcessTestSuite) TestEmptyDescriptionFails() {
	snap, err := s.process.Generate(context.Background(), "", models.GameConfig{Engine: models.EngineBevy})
	s.Require().NoError(err)

	s.Equal(models.JobFailed, snap.State)
	s.Equal("description cannot be empty", snap.Error)
	s.Require().NotNil(snap.Result)
	s.False(snap.Result.Success)
	s.Equal("description cannot be empty", snap.Result.ErrorMessage)
	s.Empty(snap.Result.FilesGenerated)
	s.Equal("Bevy", snap.Result.Engine)
	s.Equal([]EventType{EventSubmitted, EventStarted, EventFailed}, s.events.types(snap.Handle))
}

func (s *ProcessTestSuite) TestConfigErrorRegistersNothing() {
	_, err := s.process.Generate(context.Background(), "x", models.GameConfig{Engine: "Unity"})
	s.True(apperr.Is(err, apperr.ErrUnknownValue))

	_, err = s.process.GenerateAsync("x", models.GameConfig{Features: []string{"bogus"}})
	s.True(apperr.Is(err, apperr.ErrUnknownValue))

	stats := s.process.Stats()
	s.Equal(0, stats.Jobs)
	s.Equal(0, stats.NextHandle)
}

func (s *ProcessTestSuite) TestNotInitialized() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, nil)
	s.False(p.IsInitialized())

	_, err := p.Generate(context.Background(), "x", models.GameConfig{})
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
	_, err = p.GenerateAsync("x", models.GameConfig{})
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
	_, err = p.Get(0)
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
	_, err = p.Resolve(models.GameConfig{}, "x")
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
	s.True(apperr.Is(p.Evict(0), apperr.ErrNotInitialized))

	// 目录无需初始化
	s.Equal([]string{"Arcade", "Bevy", "Godot"}, p.Catalog().SupportedEngines())

	// 未初始化时清理无操作
	p.Teardown()
	s.False(p.IsInitialized())
}

func (s *ProcessTestSuite) TestInitIdempotent() {
	s.True(s.process.IsInitialized())
	s.NoError(s.process.Init())
	s.True(s.process.IsInitialized())
}

func (s *ProcessTestSuite) TestInitFailure() {
	p := s.newProcess(Options{FS: afero.NewReadOnlyFs(afero.NewMemMapFs())}, nil)

	err := p.Init()
	s.True(apperr.Is(err, apperr.ErrResourceExhausted))
	s.False(p.IsInitialized())
	s.True(p.Stats().Failed)

	err = p.Init()
	s.True(apperr.Is(err, apperr.ErrAlreadyFailed))
}

func (s *ProcessTestSuite) TestTeardownReleasesJobs() {
	snap, err := s.process.Generate(context.Background(), "coin collector", models.GameConfig{Engine: models.EngineGodot})
	s.Require().NoError(err)

	s.process.Teardown()
	s.False(s.process.IsInitialized())
	_, err = s.process.Get(snap.Handle)
	s.True(apperr.Is(err, apperr.ErrNotInitialized))

	s.Require().NoError(s.process.Init())
	_, err = s.process.Get(snap.Handle)
	s.True(apperr.Is(err, apperr.ErrNotFound))

	// 重新初始化后句柄继续递增
	next, err := s.process.Generate(context.Background(), "coin collector", models.GameConfig{Engine: models.EngineGodot})
	s.Require().NoError(err)
	s.Equal(snap.Handle+1, next.Handle)
}

func (s *ProcessTestSuite) TestGetIsIdempotent() {
	snap, err := s.process.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineBevy, Features: []string{"physics"}})
	s.Require().NoError(err)

	first, err := s.process.Get(snap.Handle)
	s.Require().NoError(err)
	want, err := json.Marshal(first.Result)
	s.Require().NoError(err)

	for i := 0; i < 10; i++ {
		again, err := s.process.Get(snap.Handle)
		s.Require().NoError(err)
		got, err := json.Marshal(again.Result)
		s.Require().NoError(err)
		s.Equal(string(want), string(got))
	}
}

func (s *ProcessTestSuite) TestOutputDirectoryCollision() {
	a, err := s.process.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)
	b, err := s.process.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)

	s.Equal(filepath.Join(outputRoot, "ai_generated_space_miner"), a.Result.OutputDirectory)
	s.Equal(filepath.Join(outputRoot, "ai_generated_space_miner_2"), b.Result.OutputDirectory)

	// 已存在于磁盘的目录也会跳过
	s.Require().NoError(s.fs.MkdirAll(filepath.Join(outputRoot, "ai_generated_space_miner_3"), 0755))
	c, err := s.process.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)
	s.Equal(filepath.Join(outputRoot, "ai_generated_space_miner_4"), c.Result.OutputDirectory)
}

func (s *ProcessTestSuite) TestOutputDirectoryUniqueAcrossReinit() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, nil)
	s.Require().NoError(p.Init())

	first, err := p.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)

	// 不落盘时目录只存在于分配记录里，重新初始化后仍不能复用
	p.Teardown()
	s.Require().NoError(p.Init())
	defer p.Teardown()

	second, err := p.Generate(context.Background(), "space miner", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)

	s.Equal(filepath.Join(outputRoot, "ai_generated_space_miner"), first.Result.OutputDirectory)
	s.Equal(filepath.Join(outputRoot, "ai_generated_space_miner_2"), second.Result.OutputDirectory)
}

func (s *ProcessTestSuite) TestWriteFailureRemovesDirectory() {
	fs := failingFs{Fs: afero.NewMemMapFs()}
	p := s.newProcess(Options{FS: fs, WriteFiles: true}, nil)
	s.Require().NoError(p.Init())
	defer p.Teardown()

	snap, err := p.Generate(context.Background(), "lava bot", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)
	s.Equal(models.JobFailed, snap.State)
	s.Contains(snap.Error, "disk full")
	s.Empty(snap.Result.FilesGenerated)

	exists, err := afero.Exists(fs, filepath.Join(outputRoot, "ai_generated_lava_bot"))
	s.NoError(err)
	s.False(exists)
}

func (s *ProcessTestSuite) TestWriteFilesDisabled() {
	fs := afero.NewMemMapFs()
	p := s.newProcess(Options{FS: fs}, nil)
	s.Require().NoError(p.Init())
	defer p.Teardown()

	snap, err := p.Generate(context.Background(), "lava bot", models.GameConfig{Engine: models.EngineGodot})
	s.Require().NoError(err)
	s.Equal(models.JobSucceeded, snap.State)

	exists, err := afero.Exists(fs, snap.Result.OutputDirectory)
	s.NoError(err)
	s.False(exists)
}

func (s *ProcessTestSuite) TestBackendPanicFailsJob() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		panic("kaboom")
	}))
	s.Require().NoError(p.Init())
	defer p.Teardown()

	snap, err := p.Generate(context.Background(), "x", models.GameConfig{})
	s.Require().NoError(err)
	s.Equal(models.JobFailed, snap.State)
	s.Contains(snap.Error, "kaboom")
}

func (s *ProcessTestSuite) TestBackendWithoutFilesFailsJob() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		return &synth.Artifacts{Title: "Empty"}, nil
	}))
	s.Require().NoError(p.Init())
	defer p.Teardown()

	snap, err := p.Generate(context.Background(), "x", models.GameConfig{})
	s.Require().NoError(err)
	s.Equal(models.JobFailed, snap.State)
	s.False(snap.Result.Success)
	s.NotEmpty(snap.Result.ErrorMessage)
}

func (s *ProcessTestSuite) TestAsyncGenerate() {
	h, err := s.process.GenerateAsync("a robot on lava", models.GameConfig{Engine: models.EngineArcade})
	s.Require().NoError(err)

	// 返回后立即可见
	snap, err := s.process.Get(h)
	s.Require().NoError(err)
	s.Equal(h, snap.Handle)

	s.Eventually(func() bool {
		snap, err := s.process.Get(h)
		return err == nil && snap.State == models.JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *ProcessTestSuite) TestAsyncQueueFull() {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	backend := synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		started <- struct{}{}
		<-release
		return &synth.Artifacts{Title: "Blocked", Files: []synth.File{{Path: "main.py"}}}, nil
	})
	p := s.newProcess(Options{FS: afero.NewMemMapFs(), Workers: 1, QueueSize: 1}, backend)
	s.Require().NoError(p.Init())
	defer p.Teardown()

	h0, err := p.GenerateAsync("a", models.GameConfig{})
	s.Require().NoError(err)
	<-started

	h1, err := p.GenerateAsync("b", models.GameConfig{})
	s.Require().NoError(err)

	_, err = p.GenerateAsync("c", models.GameConfig{})
	s.True(apperr.Is(err, apperr.ErrResourceExhausted))
	s.Equal(2, p.Stats().Jobs)

	close(release)
	for _, h := range []int{h0, h1} {
		h := h
		s.Eventually(func() bool {
			snap, err := p.Get(h)
			return err == nil && snap.State == models.JobSucceeded
		}, 5*time.Second, 10*time.Millisecond)
	}
}

func (s *ProcessTestSuite) TestTeardownCancelsRunningJobs() {
	started := make(chan struct{}, 1)
	backend := synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := s.newProcess(Options{FS: afero.NewMemMapFs(), Workers: 1}, backend)
	s.Require().NoError(p.Init())

	_, err := p.GenerateAsync("a", models.GameConfig{})
	s.Require().NoError(err)
	<-started

	done := make(chan struct{})
	go func() {
		p.Teardown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("teardown did not return")
	}
	s.False(p.IsInitialized())
}

func (s *ProcessTestSuite) TestSubmitAfterTeardown() {
	scheduler := s.process.scheduler
	registry := s.process.registry
	cfg := models.ResolvedConfig{Engine: models.EngineArcade, Complexity: models.ComplexitySimple}

	s.process.Teardown()

	// 先拿到工作池、之后才清理的调用方不能再登记任务
	h, err := scheduler.Submit("late", cfg)
	s.Equal(-1, h)
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
	s.Equal(0, registry.Len())
	s.Equal(0, scheduler.Queued())
	s.Empty(s.events.types(0))
}

func (s *ProcessTestSuite) TestCallerCancelFailsJob() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	s.Require().NoError(p.Init())
	defer p.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := p.Generate(ctx, "x", models.GameConfig{})
	s.Require().NoError(err)
	s.Equal(models.JobFailed, snap.State)
	s.Equal("operation canceled: context canceled", snap.Error)
	s.False(snap.Result.Success)
}

func (s *ProcessTestSuite) TestConcurrentHandlesDistinct() {
	const callers, perCaller = 6, 5
	var wg sync.WaitGroup
	handles := make([][]int, callers)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				snap, err := s.process.Generate(context.Background(), "swarm of bees", models.GameConfig{})
				if s.NoError(err) {
					handles[c] = append(handles[c], snap.Handle)
				}
			}
		}(c)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, hs := range handles {
		for i, h := range hs {
			s.False(seen[h], "duplicate handle %d", h)
			seen[h] = true
			if i > 0 {
				s.Greater(h, hs[i-1])
			}
		}
	}
	s.Len(seen, callers*perCaller)
}

func (s *ProcessTestSuite) TestEvict() {
	snap, err := s.process.Generate(context.Background(), "x", models.GameConfig{})
	s.Require().NoError(err)

	s.Require().NoError(s.process.Evict(snap.Handle))
	_, err = s.process.Get(snap.Handle)
	s.True(apperr.Is(err, apperr.ErrNotFound))
	s.Contains(s.events.types(snap.Handle), EventEvicted)

	s.True(apperr.Is(s.process.Evict(snap.Handle), apperr.ErrNotFound))
}

func (s *ProcessTestSuite) TestCapacityEvictsOldest() {
	p := s.newProcess(Options{FS: afero.NewMemMapFs(), MaxJobs: 2}, nil)
	s.Require().NoError(p.Init())
	defer p.Teardown()

	var handles []int
	for i := 0; i < 3; i++ {
		snap, err := p.Generate(context.Background(), "maze runner", models.GameConfig{})
		s.Require().NoError(err)
		handles = append(handles, snap.Handle)
	}
	_, err := p.Get(handles[0])
	s.True(apperr.Is(err, apperr.ErrNotFound))

	jobs, err := p.Jobs()
	s.Require().NoError(err)
	s.Len(jobs, 2)
	s.Equal(handles[1], jobs[0].Handle)

	// 容量淘汰同样发出 evicted 事件，且先于新任务的 submitted
	s.Equal([]EventType{EventSubmitted, EventStarted, EventSucceeded, EventEvicted}, s.events.types(handles[0]))
	s.Equal(EventEvicted, s.events.events[s.events.index(handles[2], EventSubmitted)-1].Type)
	s.NotContains(s.events.types(handles[1]), EventEvicted)
}

func (s *ProcessTestSuite) TestObserverPanicIsContained() {
	s.process.AddObserver(ObserverFunc(func(ev JobEvent) { panic("observer") }))
	snap, err := s.process.Generate(context.Background(), "x", models.GameConfig{})
	s.Require().NoError(err)
	s.Equal(models.JobSucceeded, snap.State)
}

func (s *ProcessTestSuite) TestGenerateBatch() {
	items := []BatchItem{
		{Description: "robot on lava", Config: models.GameConfig{Engine: models.EngineArcade}},
		{Description: "", Config: models.GameConfig{Engine: models.EngineBevy}},
		{Description: "x", Config: models.GameConfig{Engine: "Unity"}},
		{Description: "online quest", Config: models.GameConfig{}},
	}
	results, err := s.process.GenerateBatch(context.Background(), items, 2)
	s.Require().NoError(err)
	s.Require().Len(results, 4)

	s.Equal(models.JobSucceeded, results[0].State)
	s.True(results[0].Result.Success)

	s.Equal(models.JobFailed, results[1].State)
	s.Equal("description cannot be empty", results[1].Error)

	s.Equal(-1, results[2].Handle)
	s.Contains(results[2].Error, "engine")

	s.Equal(models.JobSucceeded, results[3].State)
	s.Equal("Godot", results[3].Result.Engine)

	for i, r := range results {
		s.Equal(i, r.Index)
	}

	// 未初始化
	p := s.newProcess(Options{FS: afero.NewMemMapFs()}, nil)
	_, err = p.GenerateBatch(context.Background(), items, 2)
	s.True(apperr.Is(err, apperr.ErrNotInitialized))
}
