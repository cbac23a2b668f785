package adapter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/game/synth"
	"github.com/wfunc/ai-game-dev/internal/models"
)

func newBinding(t *testing.T, backend synth.Synthesizer) *Binding {
	t.Helper()
	if backend == nil {
		tmpl, err := synth.NewTemplateSynthesizer()
		require.NoError(t, err)
		backend = tmpl
	}
	p := game.NewProcess(game.Options{
		OutputRoot:   "out",
		Workers:      2,
		QueueSize:    8,
		FS:           afero.NewMemMapFs(),
		Synthesizers: synth.NewRegistry(backend),
	})
	b := New(p, nil)
	t.Cleanup(b.Cleanup)
	return b
}

func TestCreateGameBeforeInit(t *testing.T) {
	b := newBinding(t, nil)
	c := b.Caller()

	assert.Equal(t, InvalidHandle, c.CreateGame("a robot game", `{"engine":"Arcade"}`))
	assert.Contains(t, c.LastError(), "not initialized")

	assert.Equal(t, InvalidHandle, c.CreateGameAsync("a robot game", ""))
	assert.Contains(t, c.GetResult(0), "not initialized")
}

func TestCreateAndGetResult(t *testing.T) {
	b := newBinding(t, nil)
	c := b.Caller()
	require.Equal(t, InitOK, c.Init())
	require.Equal(t, InitOK, c.Init())

	h := c.CreateGame("a simple platformer where a robot jumps over lava", `{"engine":"Auto","complexity":"simple","features":[]}`)
	require.GreaterOrEqual(t, h, 0)
	assert.Empty(t, c.LastError())

	raw := c.GetResult(h)
	var result models.GameResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Arcade", result.Engine)
	assert.NotEmpty(t, result.FilesGenerated)

	// 多次读取结果一致
	for i := 0; i < 5; i++ {
		assert.Equal(t, raw, c.GetResult(h))
	}
}

func TestFailedGameResult(t *testing.T) {
	b := newBinding(t, nil)
	c := b.Caller()
	require.Equal(t, InitOK, c.Init())

	h := c.CreateGame("", `{"engine":"Bevy"}`)
	require.GreaterOrEqual(t, h, 0)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(c.GetResult(h)), &payload))
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, "description cannot be empty", payload["error_message"])
	assert.Equal(t, []interface{}{}, payload["files_generated"])
}

func TestInvalidInput(t *testing.T) {
	b := newBinding(t, nil)
	c := b.Caller()
	require.Equal(t, InitOK, c.Init())

	assert.Equal(t, InvalidHandle, c.CreateGame("x", `{not json`))
	assert.Contains(t, c.LastError(), "invalid configuration JSON")

	assert.Equal(t, InvalidHandle, c.CreateGame("x", `{"engine":"Unity"}`))
	assert.Contains(t, c.LastError(), "engine")

	assert.JSONEq(t, `{"error":"invalid instance id"}`, c.GetResult(42))
	assert.Contains(t, c.LastError(), "not found")
}

func TestLastErrorIsPerCaller(t *testing.T) {
	b := newBinding(t, nil)
	a, other := b.Caller(), b.Caller()
	require.Equal(t, InitOK, a.Init())

	assert.Equal(t, InvalidHandle, a.CreateGame("x", `{"complexity":"extreme"}`))
	assert.NotEmpty(t, a.LastError())
	assert.Empty(t, other.LastError())
}

func TestPendingResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	b := newBinding(t, synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &synth.Artifacts{Title: "Slow", Files: []synth.File{{Path: "main.py"}}}, nil
	}))
	c := b.Caller()
	require.Equal(t, InitOK, c.Init())

	h := c.CreateGameAsync("slow game", "")
	require.GreaterOrEqual(t, h, 0)
	<-started
	assert.JSONEq(t, `{"error":"game not yet generated","state":"Running"}`, c.GetResult(h))

	close(release)
	assert.Eventually(t, func() bool {
		var r models.GameResult
		return json.Unmarshal([]byte(c.GetResult(h)), &r) == nil && r.Success
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInitFailureCodes(t *testing.T) {
	p := game.NewProcess(game.Options{
		OutputRoot:   "out",
		FS:           afero.NewReadOnlyFs(afero.NewMemMapFs()),
		Synthesizers: synth.NewRegistry(synth.Func(func(ctx context.Context, req synth.Request) (*synth.Artifacts, error) { return nil, nil })),
	})
	c := New(p, nil).Caller()
	assert.Equal(t, InitResourceExhausted, c.Init())
	assert.Contains(t, c.LastError(), "resource exhausted")
	assert.Equal(t, InitAlreadyFailed, c.Init())
}

func TestSupportedEnginesAndVersion(t *testing.T) {
	b := newBinding(t, nil)
	assert.JSONEq(t, `["Arcade","Bevy","Godot"]`, b.SupportedEngines())
	assert.Equal(t, "1.0.0", b.Version())
}

func TestCleanupReleasesHandles(t *testing.T) {
	b := newBinding(t, nil)
	c := b.Caller()
	require.Equal(t, InitOK, c.Init())
	h := c.CreateGame("maze", `{"engine":"Godot"}`)
	require.GreaterOrEqual(t, h, 0)

	b.Cleanup()
	require.Equal(t, InitOK, c.Init())
	assert.JSONEq(t, `{"error":"invalid instance id"}`, c.GetResult(h))
}

func TestConcurrentCallers(t *testing.T) {
	b := newBinding(t, nil)
	require.Equal(t, InitOK, b.Caller().Init())

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := b.Caller()
			h := c.CreateGame("tower defense", `{"engine":"Arcade"}`)
			mu.Lock()
			seen[h] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8)
	assert.False(t, seen[InvalidHandle])
}
