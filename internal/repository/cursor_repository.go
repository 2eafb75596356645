package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var ErrCursorNotFound = errors.New("scan cursor not found")

// CursorRepository 扫块游标仓储接口
type CursorRepository interface {
	Get(ctx context.Context, chainCode string) (*model.ScanCursor, error)
	// Advance 推进游标；只有在扫描完整处理完一个高度后才调用
	Advance(ctx context.Context, chainCode string, blockNumber int64) error
}

// cursorRepository 扫块游标仓储实现
type cursorRepository struct {
	*Repository
}

// NewCursorRepository 创建扫块游标仓储
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{Repository: NewRepository(db)}
}

func (r *cursorRepository) Get(ctx context.Context, chainCode string) (*model.ScanCursor, error) {
	var cursor model.ScanCursor
	err := r.DB(ctx).Where("chain_code = ?", chainCode).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *cursorRepository) Advance(ctx context.Context, chainCode string, blockNumber int64) error {
	now := time.Now().UnixMilli()
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_code"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"block_number": blockNumber,
			"updated_at":   now,
		}),
	}).Create(&model.ScanCursor{
		ChainCode:   chainCode,
		BlockNumber: blockNumber,
		UpdatedAt:   now,
	}).Error
}
