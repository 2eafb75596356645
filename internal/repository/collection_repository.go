package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var ErrCollectionNotFound = errors.New("collection transaction not found")

// CollectionRepository 归集交易仓储接口
type CollectionRepository interface {
	Create(ctx context.Context, tx *model.CollectionTransaction) error
	GetByCollectID(ctx context.Context, collectID string) (*model.CollectionTransaction, error)
	// SetTxHash 广播成功后回填交易哈希
	SetTxHash(ctx context.Context, collectID, txHash string) error
	// UpdateStatusByHash 按哈希写回终态
	UpdateStatusByHash(ctx context.Context, txHash string, status model.CollectionTxStatus, reason string) error
	UpdateStatusByCollectID(ctx context.Context, collectID string, status model.CollectionTxStatus, reason string) error
	ListPending(ctx context.Context, chainCode string, limit int) ([]*model.CollectionTransaction, error)
	// ExistsForDeposit 判断某充值交易是否已有对应的归集记录（手续费垫付除外）
	ExistsForDeposit(ctx context.Context, depositTxHash string) (bool, error)
}

// collectionRepository 归集交易仓储实现
type collectionRepository struct {
	*Repository
}

// NewCollectionRepository 创建归集交易仓储
func NewCollectionRepository(db *gorm.DB) CollectionRepository {
	return &collectionRepository{Repository: NewRepository(db)}
}

func (r *collectionRepository) Create(ctx context.Context, tx *model.CollectionTransaction) error {
	now := time.Now().UnixMilli()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return r.DB(ctx).Create(tx).Error
}

func (r *collectionRepository) GetByCollectID(ctx context.Context, collectID string) (*model.CollectionTransaction, error) {
	var tx model.CollectionTransaction
	err := r.DB(ctx).Where("collect_id = ?", collectID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *collectionRepository) SetTxHash(ctx context.Context, collectID, txHash string) error {
	result := r.DB(ctx).Model(&model.CollectionTransaction{}).
		Where("collect_id = ?", collectID).
		Updates(map[string]interface{}{
			"tx_hash":    txHash,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) UpdateStatusByHash(ctx context.Context, txHash string, status model.CollectionTxStatus, reason string) error {
	result := r.DB(ctx).Model(&model.CollectionTransaction{}).
		Where("tx_hash = ?", txHash).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) UpdateStatusByCollectID(ctx context.Context, collectID string, status model.CollectionTxStatus, reason string) error {
	result := r.DB(ctx).Model(&model.CollectionTransaction{}).
		Where("collect_id = ?", collectID).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) ListPending(ctx context.Context, chainCode string, limit int) ([]*model.CollectionTransaction, error) {
	var txs []*model.CollectionTransaction
	err := r.DB(ctx).
		Where("chain_code = ? AND status = ?", chainCode, model.CollectionTxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *collectionRepository) ExistsForDeposit(ctx context.Context, depositTxHash string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.CollectionTransaction{}).
		Where("deposit_tx_hash = ? AND kind <> ? AND status <> ?",
			depositTxHash, model.CollectionTxKindFunding, model.CollectionTxStatusFailed).
		Count(&count).Error
	return count > 0, err
}
