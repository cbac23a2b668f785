package game

import (
	"context"

	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/models"
	"golang.org/x/sync/errgroup"
)

// BatchItem 批量生成中的一项
type BatchItem struct {
	Description string            `json:"description"`
	Config      models.GameConfig `json:"config"`
}

// BatchResult 单项结果，未登记时 Handle 为 -1
type BatchResult struct {
	Index  int                `json:"index"`
	Handle int                `json:"handle"`
	State  models.JobState    `json:"state,omitempty"`
	Result *models.GameResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// GenerateBatch 并发同步生成，limit 为最大并发数；单项失败不影响其他项
func (p *Process) GenerateBatch(ctx context.Context, items []BatchItem, limit int) ([]BatchResult, error) {
	if _, _, _, err := p.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]BatchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = BatchResult{Index: i, Handle: -1, Error: err.Error()}
				return nil
			}
			snap, err := p.Generate(gctx, item.Description, item.Config)
			if err != nil {
				results[i] = BatchResult{Index: i, Handle: -1, Error: apperr.Message(err)}
				return nil
			}
			results[i] = BatchResult{
				Index:  i,
				Handle: snap.Handle,
				State:  snap.State,
				Result: snap.Result,
				Error:  snap.Error,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
