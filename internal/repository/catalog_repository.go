package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
)

var (
	ErrChainNotFound   = errors.New("chain not found")
	ErrTokenNotFound   = errors.New("token not found")
	ErrAddressNotFound = errors.New("deposit address not found")
	ErrDuplicateAddress = errors.New("duplicate deposit address")
)

// CatalogRepository 链/代币/充值地址目录仓储接口
// 链与代币目录由外部管理模块维护，这里只读；充值地址按需创建
type CatalogRepository interface {
	GetChain(ctx context.Context, chainCode string) (*model.ChainConfig, error)

	GetToken(ctx context.Context, chainCode, tokenCode string) (*model.Token, error)
	GetTokenByContract(ctx context.Context, chainCode, contract string) (*model.Token, error)
	GetNativeToken(ctx context.Context, chainCode string) (*model.Token, error)
	ListActiveTokens(ctx context.Context, chainCode string) ([]*model.Token, error)

	CreateAddress(ctx context.Context, addr *model.DepositAddress) error
	GetAddress(ctx context.Context, userID int64, chainCode string) (*model.DepositAddress, error)
	GetAddressByAddress(ctx context.Context, chainCode, address string) (*model.DepositAddress, error)
	ListAddresses(ctx context.Context, chainCode string) ([]*model.DepositAddress, error)
}

// catalogRepository 目录仓储实现
type catalogRepository struct {
	*Repository
}

// NewCatalogRepository 创建目录仓储
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{Repository: NewRepository(db)}
}

func (r *catalogRepository) GetChain(ctx context.Context, chainCode string) (*model.ChainConfig, error) {
	var chain model.ChainConfig
	err := r.DB(ctx).Where("chain_code = ?", chainCode).First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (r *catalogRepository) GetToken(ctx context.Context, chainCode, tokenCode string) (*model.Token, error) {
	var token model.Token
	err := r.DB(ctx).
		Where("chain_code = ? AND token_code = ?", chainCode, tokenCode).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *catalogRepository) GetTokenByContract(ctx context.Context, chainCode, contract string) (*model.Token, error) {
	var token model.Token
	err := r.DB(ctx).
		Where("chain_code = ? AND contract_address = ?", chainCode, contract).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *catalogRepository) GetNativeToken(ctx context.Context, chainCode string) (*model.Token, error) {
	var token model.Token
	err := r.DB(ctx).
		Where("chain_code = ? AND (contract_address = '' OR contract_address IS NULL)", chainCode).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *catalogRepository) ListActiveTokens(ctx context.Context, chainCode string) ([]*model.Token, error) {
	var tokens []*model.Token
	err := r.DB(ctx).
		Where("chain_code = ? AND active = ?", chainCode, true).
		Order("token_code ASC").
		Find(&tokens).Error
	return tokens, err
}

func (r *catalogRepository) CreateAddress(ctx context.Context, addr *model.DepositAddress) error {
	addr.CreatedAt = time.Now().UnixMilli()
	err := r.DB(ctx).Create(addr).Error
	if err != nil && IsDuplicateKeyError(err) {
		return ErrDuplicateAddress
	}
	return err
}

func (r *catalogRepository) GetAddress(ctx context.Context, userID int64, chainCode string) (*model.DepositAddress, error) {
	var addr model.DepositAddress
	err := r.DB(ctx).
		Where("user_id = ? AND chain_code = ?", userID, chainCode).
		First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *catalogRepository) GetAddressByAddress(ctx context.Context, chainCode, address string) (*model.DepositAddress, error) {
	var addr model.DepositAddress
	err := r.DB(ctx).
		Where("chain_code = ? AND address = ?", chainCode, address).
		First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *catalogRepository) ListAddresses(ctx context.Context, chainCode string) ([]*model.DepositAddress, error) {
	var addrs []*model.DepositAddress
	err := r.DB(ctx).Where("chain_code = ?", chainCode).Find(&addrs).Error
	return addrs, err
}
