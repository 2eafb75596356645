// ========================================
// ScannerService 扫块服务
// ========================================
//
// ## 功能概述
// 按链维护扫块游标，从游标后逐块拉取交易并规整，
// 命中托管充值地址的入金交易幂等落库为待确认交易与充值订单。
//
// ## 游标机制
// - 每条链一个游标，记录最后一个完整处理的区块
// - 单个区块内任何 RPC/DB 错误都会中止本轮，游标不前进
// - 游标缺失时初始化为链头，不回溯历史区块
//
// ========================================
package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/metrics"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// ScannerService 扫块服务
type ScannerService struct {
	registry    *chain.Registry
	catalogRepo repository.CatalogRepository
	cursorRepo  repository.CursorRepository
	pendingRepo repository.PendingTxRepository

	batchSize int64

	// 同链扫描不并发
	mu      sync.Mutex
	running map[string]bool
}

// ScannerServiceConfig 配置
type ScannerServiceConfig struct {
	BatchSize int64 // 单轮最多扫描的区块数
}

// NewScannerService 创建扫块服务
func NewScannerService(
	registry *chain.Registry,
	catalogRepo repository.CatalogRepository,
	cursorRepo repository.CursorRepository,
	pendingRepo repository.PendingTxRepository,
	cfg *ScannerServiceConfig,
) *ScannerService {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 20
	}

	return &ScannerService{
		registry:    registry,
		catalogRepo: catalogRepo,
		cursorRepo:  cursorRepo,
		pendingRepo: pendingRepo,
		batchSize:   batchSize,
		running:     make(map[string]bool),
	}
}

// ScanChain 扫描一条链的一轮区块
// 由调度器周期触发；同链上一轮未结束时直接跳过
func (s *ScannerService) ScanChain(ctx context.Context, chainCode string) error {
	s.mu.Lock()
	if s.running[chainCode] {
		s.mu.Unlock()
		return nil
	}
	s.running[chainCode] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, chainCode)
		s.mu.Unlock()
	}()

	adapter, err := s.registry.Get(chainCode)
	if err != nil {
		return err
	}

	latest, err := adapter.LatestBlock(ctx)
	if err != nil {
		metrics.ChainRequestsTotal.WithLabelValues(chainCode, "latest_block", "error").Inc()
		return err
	}
	metrics.ChainRequestsTotal.WithLabelValues(chainCode, "latest_block", "ok").Inc()
	metrics.ChainLatestBlockGauge.WithLabelValues(chainCode).Set(float64(latest))

	cursor, err := s.cursorRepo.Get(ctx, chainCode)
	if errors.Is(err, repository.ErrCursorNotFound) {
		// 首次启动从链头开始，不回溯
		logger.Info("initializing scan cursor at chain head",
			zap.String("chain", chainCode),
			zap.Int64("block", latest))
		return s.cursorRepo.Advance(ctx, chainCode, latest)
	}
	if err != nil {
		return err
	}

	from := cursor.BlockNumber + 1
	to := latest
	if to > cursor.BlockNumber+s.batchSize {
		to = cursor.BlockNumber + s.batchSize
	}
	if from > to {
		metrics.ScanLagGauge.WithLabelValues(chainCode).Set(0)
		return nil
	}

	for height := from; height <= to; height++ {
		if err := s.scanBlock(ctx, adapter, chainCode, height); err != nil {
			// 本区块未完整处理，游标停在上一个区块，下一轮重扫
			logger.Error("block scan aborted",
				zap.String("chain", chainCode),
				zap.Int64("block", height),
				zap.Error(err))
			return err
		}
		if err := s.cursorRepo.Advance(ctx, chainCode, height); err != nil {
			return err
		}
		metrics.BlocksScannedTotal.WithLabelValues(chainCode).Inc()
	}

	metrics.ScanLagGauge.WithLabelValues(chainCode).Set(float64(latest - to))
	return nil
}

// scanBlock 处理单个区块
func (s *ScannerService) scanBlock(ctx context.Context, adapter chain.Adapter, chainCode string, height int64) error {
	txs, err := adapter.BlockTransactions(ctx, height)
	if err != nil {
		metrics.ChainRequestsTotal.WithLabelValues(chainCode, "block_txs", "error").Inc()
		return err
	}
	metrics.ChainRequestsTotal.WithLabelValues(chainCode, "block_txs", "ok").Inc()

	for _, tx := range txs {
		if err := s.ingest(ctx, chainCode, tx); err != nil {
			return err
		}
	}
	return nil
}

// ingest 单笔交易摄入
// 仅处理金额为正的原生转账与代币转账；收款方不是托管地址或代币未登记时跳过
func (s *ScannerService) ingest(ctx context.Context, chainCode string, tx *chain.NormalizedTx) error {
	if tx.Class != chain.TxClassNativeTransfer && tx.Class != chain.TxClassTokenTransfer {
		return nil
	}
	if !tx.Amount.IsPositive() {
		return nil
	}

	addr, err := s.catalogRepo.GetAddressByAddress(ctx, chainCode, tx.To)
	if errors.Is(err, repository.ErrAddressNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := s.resolveToken(ctx, chainCode, tx)
	if errors.Is(err, repository.ErrTokenNotFound) {
		// 未登记的合约入金不建单
		return nil
	}
	if err != nil {
		return err
	}

	created, err := s.pendingRepo.CreateDepositIfAbsent(ctx, &model.PendingTransaction{
		TxHash:      tx.TxHash,
		Direction:   model.TxDirectionDeposit,
		ChainCode:   chainCode,
		FromAddress: tx.From,
		ToAddress:   tx.To,
		TokenCode:   token.TokenCode,
		Decimals:    token.Decimals,
		Amount:      tx.Amount,
		BlockNumber: tx.BlockNumber,
		UserID:      addr.UserID,
		Status:      model.PendingTxStatusPending,
	})
	if err != nil {
		return err
	}
	if created {
		metrics.DepositsDetectedTotal.WithLabelValues(chainCode, token.TokenCode).Inc()
		logger.Info("deposit detected",
			zap.String("chain", chainCode),
			zap.String("tx_hash", tx.TxHash),
			zap.String("token", token.TokenCode),
			zap.Int64("user_id", addr.UserID),
			zap.String("amount", tx.Amount.String()),
			zap.Int64("block", tx.BlockNumber))
	}
	return nil
}

// resolveToken 按交易类别定位代币配置
func (s *ScannerService) resolveToken(ctx context.Context, chainCode string, tx *chain.NormalizedTx) (*model.Token, error) {
	if tx.Class == chain.TxClassNativeTransfer {
		return s.catalogRepo.GetNativeToken(ctx, chainCode)
	}
	return s.catalogRepo.GetTokenByContract(ctx, chainCode, tx.ContractAddress)
}

