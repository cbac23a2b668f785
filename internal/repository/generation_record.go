package repository

import (
	"context"
	"time"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
	"gorm.io/gorm"
)

// HistoryFilter 历史查询条件，空字段不过滤
type HistoryFilter struct {
	Engine string `form:"engine"`
	State  string `form:"state"`
}

// GenerationRecordRepository 生成历史仓储接口
type GenerationRecordRepository interface {
	GetDB() *gorm.DB
	Create(ctx context.Context, rec *models.GenerationRecord) error
	CreateBatch(ctx context.Context, recs []*models.GenerationRecord) error
	FindByHandle(ctx context.Context, handle int) (*models.GenerationRecord, error)
	FindByJobID(ctx context.Context, jobID string) (*models.GenerationRecord, error)
	List(ctx context.Context, filter HistoryFilter, p *Pagination) ([]*models.GenerationRecord, error)
	CountByState(ctx context.Context) (map[string]int64, error)
	CountByEngine(ctx context.Context) (map[string]int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// generationRecordRepo 生成历史仓储实现
type generationRecordRepo struct {
	*BaseRepo
}

// NewGenerationRecordRepository 创建生成历史仓储
func NewGenerationRecordRepository(db *gorm.DB) GenerationRecordRepository {
	return &generationRecordRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 写入一条记录
func (r *generationRecordRepo) Create(ctx context.Context, rec *models.GenerationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// insertBatchSize 单条 INSERT 的最大行数
const insertBatchSize = 100

// CreateBatch 批量写入，任一批失败则整体回滚
func (r *generationRecordRepo) CreateBatch(ctx context.Context, recs []*models.GenerationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.CreateInBatches(recs, insertBatchSize).Error
	})
	if err != nil {
		return apperr.Wrapf(err, apperr.ErrDatabaseInsert, "insert %d generation records: %v", len(recs), err)
	}
	return nil
}

// FindByHandle 句柄只在一次进程生命周期内唯一，取最新一条
func (r *generationRecordRepo) FindByHandle(ctx context.Context, handle int) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	err := r.db.WithContext(ctx).
		Where("handle = ?", handle).
		Order("id DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByJobID 根据任务ID查找
func (r *generationRecordRepo) FindByJobID(ctx context.Context, jobID string) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 分页查询，最新写入的在前；总数写回 p.Total
func (r *generationRecordRepo) List(ctx context.Context, filter HistoryFilter, p *Pagination) ([]*models.GenerationRecord, error) {
	if p == nil {
		p = NewPagination(1, 10)
	}

	err := r.db.WithContext(ctx).
		Model(&models.GenerationRecord{}).
		Scopes(filter.scope).
		Count(&p.Total).Error
	if err != nil {
		return nil, err
	}

	var recs []*models.GenerationRecord
	err = r.db.WithContext(ctx).
		Scopes(filter.scope, Paginate(p)).
		Order("id DESC").
		Find(&recs).Error
	return recs, err
}

func (f HistoryFilter) scope(db *gorm.DB) *gorm.DB {
	if f.Engine != "" {
		db = db.Where("engine = ?", f.Engine)
	}
	if f.State != "" {
		db = db.Where("state = ?", f.State)
	}
	return db
}

type groupCount struct {
	GroupKey string
	Total    int64
}

// CountByState 按状态统计
func (r *generationRecordRepo) CountByState(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "state")
}

// CountByEngine 按引擎统计
func (r *generationRecordRepo) CountByEngine(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "engine")
}

func (r *generationRecordRepo) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []groupCount
	err := r.db.WithContext(ctx).
		Model(&models.GenerationRecord{}).
		Select(column + " AS group_key, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.GroupKey] = row.Total
	}
	return out, nil
}

// DeleteBefore 物理删除早于指定时间的记录
func (r *generationRecordRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("created_at < ?", before).
		Delete(&models.GenerationRecord{})
	return result.RowsAffected, result.Error
}
