package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ai-game-dev/internal/config"
	"github.com/wfunc/ai-game-dev/internal/database"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
	"gorm.io/gorm"
)

// setupTestDB 内存数据库，单连接保证同一个库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

var recordSeq int

func newRecord(handle int, engine models.Engine, state models.JobState) *models.GenerationRecord {
	recordSeq++
	now := time.Now()
	started := now.Add(-150 * time.Millisecond)
	snap := models.JobSnapshot{
		Handle:      handle,
		JobID:       fmt.Sprintf("job-%d-%d", handle, recordSeq),
		State:       state,
		Description: "a simple platformer",
		Config: models.ResolvedConfig{
			Engine:     engine,
			Complexity: models.ComplexitySimple,
			Features:   []string{"physics"},
		},
		CreatedAt:  started,
		StartedAt:  &started,
		FinishedAt: &now,
	}
	if state == models.JobSucceeded {
		snap.Result = &models.GameResult{
			Title:           "AI Generated A Simple Platformer",
			Engine:          string(engine),
			Success:         true,
			FilesGenerated:  []string{"main.py", "game.py"},
			OutputDirectory: "generated_games/ai_generated_a_simple_platformer",
		}
	} else {
		snap.Error = "description cannot be empty"
		snap.Result = models.NewFailedResult("AI Generated Game", "", engine, snap.Error)
	}
	return models.NewGenerationRecord(snap)
}

func TestGenerationRecordRepository_CreateAndFind(t *testing.T) {
	repo := NewGenerationRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := newRecord(3, models.EngineArcade, models.JobSucceeded)
	require.NoError(t, repo.Create(ctx, rec))
	assert.NotZero(t, rec.ID)

	found, err := repo.FindByJobID(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, found.Handle)
	assert.Equal(t, "Arcade", found.Engine)
	assert.Equal(t, models.StringList{"main.py", "game.py"}, found.Files)
	assert.Equal(t, models.StringList{"physics"}, found.Features)
	assert.Equal(t, int64(150), found.DurationMs)

	byHandle, err := repo.FindByHandle(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, byHandle.JobID)

	_, err = repo.FindByHandle(ctx, 99)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGenerationRecordRepository_FindByHandleReturnsLatest(t *testing.T) {
	repo := NewGenerationRecordRepository(setupTestDB(t))
	ctx := context.Background()

	// 进程重启后句柄可能重复
	first := newRecord(0, models.EngineArcade, models.JobSucceeded)
	second := newRecord(0, models.EngineGodot, models.JobFailed)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	found, err := repo.FindByHandle(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, second.JobID, found.JobID)
	assert.Equal(t, "description cannot be empty", found.ErrorMessage)
	assert.Empty(t, found.Files)
}

func TestGenerationRecordRepository_ListAndCount(t *testing.T) {
	repo := NewGenerationRecordRepository(setupTestDB(t))
	ctx := context.Background()

	var recs []*models.GenerationRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, newRecord(i, models.EngineArcade, models.JobSucceeded))
	}
	recs = append(recs, newRecord(5, models.EngineBevy, models.JobSucceeded))
	recs = append(recs, newRecord(6, models.EngineBevy, models.JobFailed))
	require.NoError(t, repo.CreateBatch(ctx, recs))

	p := NewPagination(1, 2)
	page, err := repo.List(ctx, HistoryFilter{}, p)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.Total)
	require.Len(t, page, 2)
	assert.Equal(t, 6, page[0].Handle)
	assert.Equal(t, 5, page[1].Handle)

	p = NewPagination(2, 3)
	page, err = repo.List(ctx, HistoryFilter{Engine: "Arcade"}, p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Total)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].Handle)
	assert.Equal(t, 0, page[1].Handle)

	page, err = repo.List(ctx, HistoryFilter{Engine: "Bevy", State: "Failed"}, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 6, page[0].Handle)

	byState, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Succeeded": 6, "Failed": 1}, byState)

	byEngine, err := repo.CountByEngine(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Arcade": 5, "Bevy": 2}, byEngine)
}

func TestGenerationRecordRepository_CreateBatchRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGenerationRecordRepository(db)
	ctx := context.Background()

	// 第二批出现重复 job_id，第一批也不应留下
	var recs []*models.GenerationRecord
	for i := 0; i <= insertBatchSize; i++ {
		recs = append(recs, newRecord(i, models.EngineArcade, models.JobSucceeded))
	}
	recs[insertBatchSize].JobID = recs[0].JobID

	err := repo.CreateBatch(ctx, recs)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrDatabaseInsert))

	var n int64
	require.NoError(t, db.Model(&models.GenerationRecord{}).Count(&n).Error)
	assert.Zero(t, n)

	assert.NoError(t, repo.CreateBatch(ctx, nil))
}

func TestGenerationRecordRepository_DeleteBefore(t *testing.T) {
	repo := NewGenerationRecordRepository(setupTestDB(t))
	ctx := context.Background()

	old := newRecord(1, models.EngineGodot, models.JobSucceeded)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := newRecord(2, models.EngineGodot, models.JobSucceeded)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	n, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.FindByJobID(ctx, old.JobID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindByJobID(ctx, fresh.JobID)
	assert.NoError(t, err)
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 500)
	assert.Equal(t, 100, p.PageSize)
	assert.Equal(t, 200, p.Offset())
}
