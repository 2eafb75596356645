package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var ErrWalletRowNotFound = errors.New("wallet balance row not found")

// WalletRepository 余额仓储接口
// 所有变更方法均为单条条件 UPDATE，非负约束写进 WHERE，由数据库保证原子性；
// 返回 applied=false 表示行不存在或条件不满足，由上层 Ledger 区分
type WalletRepository interface {
	Get(ctx context.Context, userID, tokenID int64) (*model.WalletBalance, error)
	// CreateRow 创建初始余额行，INSERT ... ON CONFLICT DO NOTHING
	// 返回 created=false 表示行已被并发事务创建；冲突不产生错误，事务保持可用
	CreateRow(ctx context.Context, balance *model.WalletBalance) (bool, error)
	// AddBalance balance += amount，无条件（amount 为正时永不违反非负约束）
	AddBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error)
	// SubBalance balance -= amount，要求扣减后 balance >= 0
	SubBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error)
	// Freeze balance -= amount, frozen_balance += amount，要求扣减后 balance >= 0
	Freeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error)
	// Unfreeze frozen_balance -= amount, balance += amount，要求扣减后 frozen_balance >= 0
	Unfreeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error)
	// SubFrozen frozen_balance -= amount，要求扣减后 frozen_balance >= 0
	SubFrozen(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error)

	AppendLog(ctx context.Context, log *model.WalletLog) error
	ListLogs(ctx context.Context, userID, tokenID int64, page *Pagination) ([]*model.WalletLog, error)
}

// walletRepository 余额仓储实现
type walletRepository struct {
	*Repository
}

// NewWalletRepository 创建余额仓储
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{Repository: NewRepository(db)}
}

func (r *walletRepository) Get(ctx context.Context, userID, tokenID int64) (*model.WalletBalance, error) {
	var balance model.WalletBalance
	err := r.DB(ctx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletRowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *walletRepository) CreateRow(ctx context.Context, balance *model.WalletBalance) (bool, error) {
	now := time.Now().UnixMilli()
	balance.CreatedAt = now
	balance.UpdatedAt = now
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "token_id"}},
		DoNothing: true,
	}).Create(balance)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) AddBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	result := r.DB(ctx).Model(&model.WalletBalance{}).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) SubBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	result := r.DB(ctx).Model(&model.WalletBalance{}).
		Where("user_id = ? AND token_id = ? AND balance >= ?", userID, tokenID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) Freeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	result := r.DB(ctx).Model(&model.WalletBalance{}).
		Where("user_id = ? AND token_id = ? AND balance >= ?", userID, tokenID, amount).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance - ?", amount),
			"frozen_balance": gorm.Expr("frozen_balance + ?", amount),
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) Unfreeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	result := r.DB(ctx).Model(&model.WalletBalance{}).
		Where("user_id = ? AND token_id = ? AND frozen_balance >= ?", userID, tokenID, amount).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance + ?", amount),
			"frozen_balance": gorm.Expr("frozen_balance - ?", amount),
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) SubFrozen(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	result := r.DB(ctx).Model(&model.WalletBalance{}).
		Where("user_id = ? AND token_id = ? AND frozen_balance >= ?", userID, tokenID, amount).
		Updates(map[string]interface{}{
			"frozen_balance": gorm.Expr("frozen_balance - ?", amount),
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *walletRepository) AppendLog(ctx context.Context, log *model.WalletLog) error {
	log.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(log).Error
}

func (r *walletRepository) ListLogs(ctx context.Context, userID, tokenID int64, page *Pagination) ([]*model.WalletLog, error) {
	var logs []*model.WalletLog
	db := r.DB(ctx).Model(&model.WalletLog{}).
		Where("user_id = ? AND token_id = ?", userID, tokenID)
	if err := db.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := db.Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&logs).Error
	return logs, err
}
