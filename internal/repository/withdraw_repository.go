package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var (
	ErrWithdrawOrderNotFound   = errors.New("withdraw order not found")
	ErrDuplicateWithdraw       = errors.New("duplicate withdraw order")
	ErrInvalidStatusTransition = errors.New("invalid withdraw status transition")
)

// WithdrawRepository 提现订单仓储接口
type WithdrawRepository interface {
	Create(ctx context.Context, order *model.WithdrawOrder) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.WithdrawOrder, error)
	GetByTxHash(ctx context.Context, txHash string) (*model.WithdrawOrder, error)
	// TransitionStatus 条件迁移：仅当当前状态为 from 时生效，返回 applied
	// from -> to 不是合法状态机边时返回 ErrInvalidStatusTransition
	TransitionStatus(ctx context.Context, orderNo string, from, to model.WithdrawStatus, updates map[string]interface{}) (bool, error)
	ListByStatus(ctx context.Context, chainCode string, status model.WithdrawStatus, limit int) ([]*model.WithdrawOrder, error)
	// HasUnresolved 用户是否存在未到终态的提现订单
	HasUnresolved(ctx context.Context, userID int64) (bool, error)
}

// withdrawRepository 提现订单仓储实现
type withdrawRepository struct {
	*Repository
}

// NewWithdrawRepository 创建提现订单仓储
func NewWithdrawRepository(db *gorm.DB) WithdrawRepository {
	return &withdrawRepository{Repository: NewRepository(db)}
}

func (r *withdrawRepository) Create(ctx context.Context, order *model.WithdrawOrder) error {
	now := time.Now().UnixMilli()
	order.CreatedAt = now
	order.UpdatedAt = now
	err := r.DB(ctx).Create(order).Error
	if err != nil && IsDuplicateKeyError(err) {
		return ErrDuplicateWithdraw
	}
	return err
}

func (r *withdrawRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.WithdrawOrder, error) {
	var order model.WithdrawOrder
	err := r.DB(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *withdrawRepository) GetByTxHash(ctx context.Context, txHash string) (*model.WithdrawOrder, error) {
	var order model.WithdrawOrder
	err := r.DB(ctx).Where("tx_hash = ?", txHash).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *withdrawRepository) TransitionStatus(ctx context.Context, orderNo string, from, to model.WithdrawStatus, updates map[string]interface{}) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, ErrInvalidStatusTransition
	}

	values := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UnixMilli(),
	}
	for k, v := range updates {
		values[k] = v
	}

	result := r.DB(ctx).Model(&model.WithdrawOrder{}).
		Where("order_no = ? AND status = ?", orderNo, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *withdrawRepository) ListByStatus(ctx context.Context, chainCode string, status model.WithdrawStatus, limit int) ([]*model.WithdrawOrder, error) {
	var orders []*model.WithdrawOrder
	err := r.DB(ctx).
		Where("chain_code = ? AND status = ?", chainCode, status).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *withdrawRepository) HasUnresolved(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.WithdrawOrder{}).
		Where("user_id = ? AND status IN ?", userID, model.UnresolvedWithdrawStatuses()).
		Count(&count).Error
	return count > 0, err
}
