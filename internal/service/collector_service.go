// ========================================
// CollectorService 资金归集服务
// ========================================
//
// ## 功能概述
// 充值确认后把用户充值地址上的资产扫入金库地址。
// 代币归集前若充值地址原生币不足以支付手续费，先由资金钱包垫付，
// 垫付确认后再发起代币归集。
//
// ## 落库顺序
// 归集记录先于广播落库 (collect_id 唯一)，广播后回填 tx_hash，
// 有界轮询等待终态；超时的记录留在 PENDING，由巡检任务兜底收敛。
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/metrics"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/internal/vault"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

var ErrCollectionNotConfigured = errors.New("collection not configured for chain")

// staleCollectionAge 广播前崩溃的归集记录判定为丢失的时限
const staleCollectionAge = 10 * time.Minute

// CollectorChainConfig 单链归集配置
type CollectorChainConfig struct {
	TreasuryAddress string // 金库地址，归集目的地
	FundingAddress  string // 资金钱包地址，垫付手续费
	FundingKeyID    string // 资金钱包私钥在 Vault 中的引用
}

// CollectorServiceConfig 配置
type CollectorServiceConfig struct {
	Chains       map[string]*CollectorChainConfig
	PollInterval time.Duration // 等待终态的轮询间隔
	AwaitTimeout time.Duration // 等待终态的上限
}

// CollectorService 资金归集服务
type CollectorService struct {
	registry       *chain.Registry
	sender         *chain.Sender
	catalogRepo    repository.CatalogRepository
	collectionRepo repository.CollectionRepository
	keyVault       vault.KeyStore

	chains       map[string]*CollectorChainConfig
	pollInterval time.Duration
	awaitTimeout time.Duration
}

// NewCollectorService 创建资金归集服务
func NewCollectorService(
	registry *chain.Registry,
	sender *chain.Sender,
	catalogRepo repository.CatalogRepository,
	collectionRepo repository.CollectionRepository,
	keyVault vault.KeyStore,
	cfg *CollectorServiceConfig,
) *CollectorService {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	awaitTimeout := cfg.AwaitTimeout
	if awaitTimeout == 0 {
		awaitTimeout = 3 * time.Minute
	}

	return &CollectorService{
		registry:       registry,
		sender:         sender,
		catalogRepo:    catalogRepo,
		collectionRepo: collectionRepo,
		keyVault:       keyVault,
		chains:         cfg.Chains,
		pollInterval:   pollInterval,
		awaitTimeout:   awaitTimeout,
	}
}

// CollectDeposit 对一笔已入账的充值发起归集
// 同一充值已有未失败的归集记录时为 no-op
func (s *CollectorService) CollectDeposit(ctx context.Context, pending *model.PendingTransaction) error {
	cfg, ok := s.chains[pending.ChainCode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotConfigured, pending.ChainCode)
	}

	exists, err := s.collectionRepo.ExistsForDeposit(ctx, pending.TxHash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	addr, err := s.catalogRepo.GetAddressByAddress(ctx, pending.ChainCode, pending.ToAddress)
	if err != nil {
		return err
	}

	privateKey, err := s.keyVault.Get(ctx, addr.KeyID)
	if err != nil {
		return err
	}

	token, err := s.catalogRepo.GetToken(ctx, pending.ChainCode, pending.TokenCode)
	if err != nil {
		return err
	}

	adapter, err := s.registry.Get(pending.ChainCode)
	if err != nil {
		return err
	}

	chainCfg, err := s.catalogRepo.GetChain(ctx, pending.ChainCode)
	if err != nil {
		return err
	}

	if token.IsNative() {
		return s.collectNative(ctx, adapter, chainCfg, cfg, pending, token, privateKey)
	}
	return s.collectToken(ctx, adapter, chainCfg, cfg, pending, token, privateKey)
}

// collectNative 原生币归集：全额减去手续费
func (s *CollectorService) collectNative(
	ctx context.Context,
	adapter chain.Adapter,
	chainCfg *model.ChainConfig,
	cfg *CollectorChainConfig,
	pending *model.PendingTransaction,
	token *model.Token,
	privateKey string,
) error {
	balance, err := adapter.NativeBalance(ctx, pending.ToAddress)
	if err != nil {
		return err
	}

	fee, err := adapter.EstimateFee(ctx, &chain.TransferRequest{
		FromAddress: pending.ToAddress,
		ToAddress:   cfg.TreasuryAddress,
		Amount:      balance,
	})
	if err != nil {
		return err
	}

	amount := balance.Sub(fee)
	if !amount.IsPositive() {
		logger.Warn("native balance below sweep fee, skipping collection",
			zap.String("chain", pending.ChainCode),
			zap.String("address", pending.ToAddress),
			zap.String("balance", balance.String()),
			zap.String("fee", fee.String()))
		return nil
	}

	return s.execute(ctx, adapter, chainCfg, &model.CollectionTransaction{
		CollectID:     uuid.NewString(),
		ChainCode:     pending.ChainCode,
		FromAddress:   pending.ToAddress,
		ToAddress:     cfg.TreasuryAddress,
		TokenCode:     token.TokenCode,
		Amount:        amount,
		Kind:          model.CollectionTxKindNative,
		Status:        model.CollectionTxStatusPending,
		DepositTxHash: pending.TxHash,
	}, &chain.TransferRequest{
		FromAddress:   pending.ToAddress,
		PrivateKeyHex: privateKey,
		ToAddress:     cfg.TreasuryAddress,
		Amount:        amount,
	})
}

// collectToken 代币归集：手续费不足时先垫付再扫
func (s *CollectorService) collectToken(
	ctx context.Context,
	adapter chain.Adapter,
	chainCfg *model.ChainConfig,
	cfg *CollectorChainConfig,
	pending *model.PendingTransaction,
	token *model.Token,
	privateKey string,
) error {
	tokenBalance, err := adapter.TokenBalance(ctx, token.ContractAddress, pending.ToAddress)
	if err != nil {
		return err
	}
	if !tokenBalance.IsPositive() {
		return nil
	}

	sweepReq := &chain.TransferRequest{
		FromAddress:     pending.ToAddress,
		PrivateKeyHex:   privateKey,
		ToAddress:       cfg.TreasuryAddress,
		ContractAddress: token.ContractAddress,
		Amount:          tokenBalance,
	}

	fee, err := adapter.EstimateFee(ctx, sweepReq)
	if err != nil {
		return err
	}

	nativeBalance, err := adapter.NativeBalance(ctx, pending.ToAddress)
	if err != nil {
		return err
	}

	if nativeBalance.LessThan(fee) {
		shortfall := fee.Sub(nativeBalance)
		if err := s.fund(ctx, adapter, chainCfg, cfg, pending, shortfall); err != nil {
			return err
		}
	}

	return s.execute(ctx, adapter, chainCfg, &model.CollectionTransaction{
		CollectID:     uuid.NewString(),
		ChainCode:     pending.ChainCode,
		FromAddress:   pending.ToAddress,
		ToAddress:     cfg.TreasuryAddress,
		TokenCode:     token.TokenCode,
		Amount:        tokenBalance,
		Kind:          model.CollectionTxKindToken,
		Status:        model.CollectionTxStatusPending,
		DepositTxHash: pending.TxHash,
	}, sweepReq)
}

// fund 资金钱包垫付手续费并等待确认
func (s *CollectorService) fund(
	ctx context.Context,
	adapter chain.Adapter,
	chainCfg *model.ChainConfig,
	cfg *CollectorChainConfig,
	pending *model.PendingTransaction,
	amount decimal.Decimal,
) error {
	fundingKey, err := s.keyVault.Get(ctx, cfg.FundingKeyID)
	if err != nil {
		return err
	}

	record := &model.CollectionTransaction{
		CollectID:     uuid.NewString(),
		ChainCode:     pending.ChainCode,
		FromAddress:   cfg.FundingAddress,
		ToAddress:     pending.ToAddress,
		TokenCode:     "", // 原生币垫付
		Amount:        amount,
		Kind:          model.CollectionTxKindFunding,
		Status:        model.CollectionTxStatusPending,
		DepositTxHash: pending.TxHash,
	}

	if err := s.execute(ctx, adapter, chainCfg, record, &chain.TransferRequest{
		FromAddress:   cfg.FundingAddress,
		PrivateKeyHex: fundingKey,
		ToAddress:     pending.ToAddress,
		Amount:        amount,
	}); err != nil {
		return fmt.Errorf("fee funding failed: %w", err)
	}

	// 垫付必须确认后才能扫代币
	final, err := s.collectionRepo.GetByCollectID(ctx, record.CollectID)
	if err != nil {
		return err
	}
	if final.Status != model.CollectionTxStatusSuccess {
		return fmt.Errorf("fee funding not confirmed: status=%s", final.Status)
	}
	return nil
}

// execute 落库、广播并有界等待终态
func (s *CollectorService) execute(
	ctx context.Context,
	adapter chain.Adapter,
	chainCfg *model.ChainConfig,
	record *model.CollectionTransaction,
	req *chain.TransferRequest,
) error {
	if err := s.collectionRepo.Create(ctx, record); err != nil {
		return err
	}

	txHash, err := s.sender.Send(ctx, record.ChainCode, req)
	if err != nil {
		_ = s.collectionRepo.UpdateStatusByCollectID(ctx, record.CollectID, model.CollectionTxStatusFailed, err.Error())
		metrics.CollectionsTotal.WithLabelValues(record.ChainCode, record.Kind.String(), "failed").Inc()
		return err
	}

	if err := s.collectionRepo.SetTxHash(ctx, record.CollectID, txHash); err != nil {
		return err
	}

	logger.Info("collection transaction broadcast",
		zap.String("chain", record.ChainCode),
		zap.String("collect_id", record.CollectID),
		zap.String("kind", record.Kind.String()),
		zap.String("tx_hash", txHash),
		zap.String("amount", record.Amount.String()))

	result, err := chain.WaitForStatus(ctx, adapter, txHash,
		int64(chainCfg.RequiredConfirmations), s.pollInterval, s.awaitTimeout)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case chain.WaitOutcomeConfirmed:
		if err := s.collectionRepo.UpdateStatusByHash(ctx, txHash, model.CollectionTxStatusSuccess, ""); err != nil {
			return err
		}
		metrics.CollectionsTotal.WithLabelValues(record.ChainCode, record.Kind.String(), "success").Inc()
		if result.Receipt != nil {
			fee, _ := result.Receipt.Fee.Float64()
			metrics.CollectionFee.WithLabelValues(record.ChainCode).Observe(fee)
		}
		return nil

	case chain.WaitOutcomeFailed:
		if err := s.collectionRepo.UpdateStatusByHash(ctx, txHash, model.CollectionTxStatusFailed, "transaction reverted on chain"); err != nil {
			return err
		}
		metrics.CollectionsTotal.WithLabelValues(record.ChainCode, record.Kind.String(), "failed").Inc()
		return fmt.Errorf("collection %s reverted on chain", record.CollectID)

	default:
		// 超时留在 PENDING，由巡检任务兜底
		logger.Warn("collection await timed out",
			zap.String("chain", record.ChainCode),
			zap.String("collect_id", record.CollectID),
			zap.String("tx_hash", txHash))
		return nil
	}
}

// SweepPending 巡检未收敛的归集记录
// 覆盖两类：广播后等待超时的，以及广播前进程崩溃的
func (s *CollectorService) SweepPending(ctx context.Context, chainCode string) error {
	adapter, err := s.registry.Get(chainCode)
	if err != nil {
		return err
	}

	chainCfg, err := s.catalogRepo.GetChain(ctx, chainCode)
	if err != nil {
		return err
	}

	latest, err := adapter.LatestBlock(ctx)
	if err != nil {
		return err
	}

	pendings, err := s.collectionRepo.ListPending(ctx, chainCode, 100)
	if err != nil {
		return err
	}

	for _, record := range pendings {
		if record.TxHash == "" {
			// 广播前崩溃；超过时限的记录判定为丢失
			if time.Now().UnixMilli()-record.CreatedAt > staleCollectionAge.Milliseconds() {
				if err := s.collectionRepo.UpdateStatusByCollectID(ctx, record.CollectID,
					model.CollectionTxStatusFailed, "never broadcast"); err != nil {
					return err
				}
				metrics.CollectionsTotal.WithLabelValues(chainCode, record.Kind.String(), "failed").Inc()
			}
			continue
		}

		receipt, err := adapter.TransactionReceipt(ctx, record.TxHash)
		if errors.Is(err, chain.ErrTxNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if !receipt.Success {
			if err := s.collectionRepo.UpdateStatusByHash(ctx, record.TxHash,
				model.CollectionTxStatusFailed, "transaction reverted on chain"); err != nil {
				return err
			}
			metrics.CollectionsTotal.WithLabelValues(chainCode, record.Kind.String(), "failed").Inc()
			continue
		}

		if latest-receipt.BlockNumber+1 >= int64(chainCfg.RequiredConfirmations) {
			if err := s.collectionRepo.UpdateStatusByHash(ctx, record.TxHash,
				model.CollectionTxStatusSuccess, ""); err != nil {
				return err
			}
			metrics.CollectionsTotal.WithLabelValues(chainCode, record.Kind.String(), "success").Inc()
		}
	}
	return nil
}
