package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var (
	ErrPendingTxNotFound    = errors.New("pending transaction not found")
	ErrDepositOrderNotFound = errors.New("deposit order not found")
)

// PendingTxRepository 链上待确认交易仓储接口
type PendingTxRepository interface {
	// CreateDepositIfAbsent 在一个数据库事务内幂等落库 PendingTransaction 与
	// PENDING 状态的 DepositOrder；哈希已存在时为 no-op，返回 created=false
	CreateDepositIfAbsent(ctx context.Context, tx *model.PendingTransaction) (bool, error)
	ExistsByHash(ctx context.Context, txHash string, direction model.TxDirection) (bool, error)
	GetByHash(ctx context.Context, txHash string, direction model.TxDirection) (*model.PendingTransaction, error)
	ListPending(ctx context.Context, chainCode string, direction model.TxDirection, limit int) ([]*model.PendingTransaction, error)
	UpdateStatus(ctx context.Context, txHash string, direction model.TxDirection, status model.PendingTxStatus) error

	GetOrder(ctx context.Context, txHash string) (*model.DepositOrder, error)
	ListOrdersByStatus(ctx context.Context, chainCode string, status model.DepositOrderStatus, limit int) ([]*model.DepositOrder, error)
	// SettleOrder 将订单从 PENDING 迁移到 SETTLED；已非 PENDING 返回 applied=false
	SettleOrder(ctx context.Context, txHash string, confirmBlock int64) (bool, error)
	// FailOrder 将订单从 PENDING 迁移到 FAILED；已非 PENDING 返回 applied=false
	FailOrder(ctx context.Context, txHash string, reason string) (bool, error)
}

// pendingTxRepository 待确认交易仓储实现
type pendingTxRepository struct {
	*Repository
}

// NewPendingTxRepository 创建待确认交易仓储
func NewPendingTxRepository(db *gorm.DB) PendingTxRepository {
	return &pendingTxRepository{Repository: NewRepository(db)}
}

func (r *pendingTxRepository) CreateDepositIfAbsent(ctx context.Context, pending *model.PendingTransaction) (bool, error) {
	created := false
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		var count int64
		if err := r.DB(txCtx).Model(&model.PendingTransaction{}).
			Where("tx_hash = ? AND direction = ?", pending.TxHash, pending.Direction).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UnixMilli()
		pending.CreatedAt = now
		pending.UpdatedAt = now
		if err := r.DB(txCtx).Create(pending).Error; err != nil {
			// 并发扫描竞争同一哈希，当作已存在处理
			if IsDuplicateKeyError(err) {
				return nil
			}
			return err
		}

		order := &model.DepositOrder{
			TxHash:    pending.TxHash,
			UserID:    pending.UserID,
			ChainCode: pending.ChainCode,
			TokenCode: pending.TokenCode,
			Decimals:  pending.Decimals,
			Amount:    pending.Amount,
			Status:    model.DepositOrderStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.DB(txCtx).Create(order).Error; err != nil {
			if IsDuplicateKeyError(err) {
				return nil
			}
			return err
		}

		created = true
		return nil
	})
	return created, err
}

func (r *pendingTxRepository) ExistsByHash(ctx context.Context, txHash string, direction model.TxDirection) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.PendingTransaction{}).
		Where("tx_hash = ? AND direction = ?", txHash, direction).
		Count(&count).Error
	return count > 0, err
}

func (r *pendingTxRepository) GetByHash(ctx context.Context, txHash string, direction model.TxDirection) (*model.PendingTransaction, error) {
	var pending model.PendingTransaction
	err := r.DB(ctx).
		Where("tx_hash = ? AND direction = ?", txHash, direction).
		First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPendingTxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

func (r *pendingTxRepository) ListPending(ctx context.Context, chainCode string, direction model.TxDirection, limit int) ([]*model.PendingTransaction, error) {
	var pendings []*model.PendingTransaction
	err := r.DB(ctx).
		Where("chain_code = ? AND direction = ? AND status = ?", chainCode, direction, model.PendingTxStatusPending).
		Order("block_number ASC, id ASC").
		Limit(limit).
		Find(&pendings).Error
	return pendings, err
}

func (r *pendingTxRepository) UpdateStatus(ctx context.Context, txHash string, direction model.TxDirection, status model.PendingTxStatus) error {
	result := r.DB(ctx).Model(&model.PendingTransaction{}).
		Where("tx_hash = ? AND direction = ?", txHash, direction).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPendingTxNotFound
	}
	return nil
}

func (r *pendingTxRepository) GetOrder(ctx context.Context, txHash string) (*model.DepositOrder, error) {
	var order model.DepositOrder
	err := r.DB(ctx).Where("tx_hash = ?", txHash).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDepositOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *pendingTxRepository) ListOrdersByStatus(ctx context.Context, chainCode string, status model.DepositOrderStatus, limit int) ([]*model.DepositOrder, error) {
	var orders []*model.DepositOrder
	err := r.DB(ctx).
		Where("chain_code = ? AND status = ?", chainCode, status).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *pendingTxRepository) SettleOrder(ctx context.Context, txHash string, confirmBlock int64) (bool, error) {
	result := r.DB(ctx).Model(&model.DepositOrder{}).
		Where("tx_hash = ? AND status = ?", txHash, model.DepositOrderStatusPending).
		Updates(map[string]interface{}{
			"status":        model.DepositOrderStatusSettled,
			"confirm_block": confirmBlock,
			"updated_at":    time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *pendingTxRepository) FailOrder(ctx context.Context, txHash string, reason string) (bool, error) {
	result := r.DB(ctx).Model(&model.DepositOrder{}).
		Where("tx_hash = ? AND status = ?", txHash, model.DepositOrderStatusPending).
		Updates(map[string]interface{}{
			"status":         model.DepositOrderStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
