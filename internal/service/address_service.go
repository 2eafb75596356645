// ========================================
// AddressService 充值地址服务
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/internal/vault"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// AddressService 用户充值地址分配
// 每个 (user_id, chain_code) 恒定返回同一地址；私钥生成后立即入 Vault，
// 地址表只落 key_id 引用
type AddressService struct {
	catalogRepo repository.CatalogRepository
	keyVault    vault.KeyStore
}

// NewAddressService 创建充值地址服务
func NewAddressService(catalogRepo repository.CatalogRepository, keyVault vault.KeyStore) *AddressService {
	return &AddressService{
		catalogRepo: catalogRepo,
		keyVault:    keyVault,
	}
}

// GetOrCreate 返回用户在指定链上的充值地址，不存在则生成
func (s *AddressService) GetOrCreate(ctx context.Context, userID int64, chainCode string) (*model.DepositAddress, error) {
	addr, err := s.catalogRepo.GetAddress(ctx, userID, chainCode)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, repository.ErrAddressNotFound) {
		return nil, err
	}

	chainCfg, err := s.catalogRepo.GetChain(ctx, chainCode)
	if err != nil {
		return nil, err
	}
	if !chainCfg.Enabled {
		return nil, fmt.Errorf("chain %s is disabled", chainCode)
	}

	address, privateKeyHex, err := generateKeypair(chainCode)
	if err != nil {
		return nil, err
	}

	keyID, err := s.keyVault.Store(ctx, chainCode, address, privateKeyHex)
	if err != nil {
		return nil, err
	}

	record := &model.DepositAddress{
		UserID:    userID,
		ChainCode: chainCode,
		Address:   address,
		KeyID:     keyID,
	}
	err = s.catalogRepo.CreateAddress(ctx, record)
	if errors.Is(err, repository.ErrDuplicateAddress) {
		// 并发分配撞唯一键，返回已落库的那条
		return s.catalogRepo.GetAddress(ctx, userID, chainCode)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("deposit address allocated",
		zap.Int64("user_id", userID),
		zap.String("chain", chainCode),
		zap.String("address", address))
	return record, nil
}

// generateKeypair 生成链上密钥对，返回地址与私钥 hex
func generateKeypair(chainCode string) (string, string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	privateKeyHex := fmt.Sprintf("%x", crypto.FromECDSA(key))

	switch chainCode {
	case model.ChainETH:
		return crypto.PubkeyToAddress(key.PublicKey).Hex(), privateKeyHex, nil
	case model.ChainTRON:
		return chain.TronAddressFromPubkey(crypto.FromECDSAPub(&key.PublicKey)), privateKeyHex, nil
	default:
		return "", "", fmt.Errorf("%w: %s", chain.ErrChainNotSupported, chainCode)
	}
}
