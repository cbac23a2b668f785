package database

import (
	"fmt"

	"github.com/wfunc/ai-game-dev/internal/logger"
	"github.com/wfunc/ai-game-dev/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationModels 需要迁移的模型
var migrationModels = []interface{}{
	&models.GenerationRecord{},
}

// AutoMigrate 自动迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}
	return Migrate(DB)
}

// Migrate 迁移指定连接的表结构
func Migrate(db *gorm.DB) error {
	logger.Info("开始数据库迁移...")

	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	// 历史查询按引擎+状态过滤，按时间倒序
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_generation_records_engine_state ON generation_records(engine, state)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_generation_records_engine_state"), zap.Error(err))
	}

	logger.Info("数据库迁移完成")
	return nil
}
