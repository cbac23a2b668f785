package service

import (
	"time"

	"github.com/wfunc/ai-game-dev/internal/config"
	"github.com/wfunc/ai-game-dev/internal/repository"
	"github.com/wfunc/ai-game-dev/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	History *HistoryService // 未启用数据库时为 nil
	Tokens  *utils.JWTManager
}

// NewServices 创建服务集合，db 为 nil 时不提供历史服务
func NewServices(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Services{
		Tokens: utils.NewJWTManager(
			cfg.Security.JWT.Secret,
			cfg.Security.JWT.Issuer,
			time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour,
		),
	}

	if db != nil {
		s.History = NewHistoryService(repository.NewGenerationRecordRepository(db), cfg.History, log)
	}

	return s
}

// Close 关闭后台服务
func (s *Services) Close() {
	if s.History != nil {
		s.History.Close()
	}
}
