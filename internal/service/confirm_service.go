// ========================================
// ConfirmService 充值确认服务
// ========================================
//
// ## 功能概述
// 轮询待确认的充值交易，回执成功且确认深度达标后在一个数据库事务内
// 完成订单核销与账本入账，然后发出 deposit-credited 事件并触发归集。
//
// ## 入账约束
// - 订单核销是条件迁移 (PENDING -> SETTLED)，入账与之同事务，保证恰好一次
// - 代币已停用时扣住不入账，订单保持 PENDING 等待人工处理
// - 回执失败则订单置 FAILED，不入账
//
// ========================================
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/kafka"
	"github.com/aether-exchange/aether-custody/internal/ledger"
	"github.com/aether-exchange/aether-custody/internal/metrics"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// ConfirmService 充值确认服务
type ConfirmService struct {
	registry    *chain.Registry
	catalogRepo repository.CatalogRepository
	pendingRepo repository.PendingTxRepository
	book        *ledger.Ledger
	base        *repository.Repository
	publisher   kafka.EventPublisher
	collector   *CollectorService

	batchSize int
}

// ConfirmServiceConfig 配置
type ConfirmServiceConfig struct {
	BatchSize int // 单轮最多处理的待确认交易数
}

// NewConfirmService 创建充值确认服务
func NewConfirmService(
	registry *chain.Registry,
	catalogRepo repository.CatalogRepository,
	pendingRepo repository.PendingTxRepository,
	book *ledger.Ledger,
	base *repository.Repository,
	publisher kafka.EventPublisher,
	collector *CollectorService,
	cfg *ConfirmServiceConfig,
) *ConfirmService {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	return &ConfirmService{
		registry:    registry,
		catalogRepo: catalogRepo,
		pendingRepo: pendingRepo,
		book:        book,
		base:        base,
		publisher:   publisher,
		collector:   collector,
		batchSize:   batchSize,
	}
}

// ConfirmChain 处理一条链的待确认充值
func (s *ConfirmService) ConfirmChain(ctx context.Context, chainCode string) error {
	chainCfg, err := s.catalogRepo.GetChain(ctx, chainCode)
	if err != nil {
		return err
	}

	adapter, err := s.registry.Get(chainCode)
	if err != nil {
		return err
	}

	latest, err := adapter.LatestBlock(ctx)
	if err != nil {
		return err
	}

	pendings, err := s.pendingRepo.ListPending(ctx, chainCode, model.TxDirectionDeposit, s.batchSize)
	if err != nil {
		return err
	}

	for _, pending := range pendings {
		if err := s.confirmOne(ctx, chainCfg, adapter, latest, pending); err != nil {
			logger.Error("deposit confirmation failed",
				zap.String("chain", chainCode),
				zap.String("tx_hash", pending.TxHash),
				zap.Error(err))
			// 单笔失败不阻断同批其他交易
		}
	}
	return nil
}

// confirmOne 处理单笔待确认充值
func (s *ConfirmService) confirmOne(
	ctx context.Context,
	chainCfg *model.ChainConfig,
	adapter chain.Adapter,
	latest int64,
	pending *model.PendingTransaction,
) error {
	receipt, err := adapter.TransactionReceipt(ctx, pending.TxHash)
	if errors.Is(err, chain.ErrTxNotFound) {
		// 尚未上链，等下一轮
		return nil
	}
	if err != nil {
		return err
	}

	if !receipt.Success {
		return s.failDeposit(ctx, pending, "transaction reverted on chain")
	}

	if latest-receipt.BlockNumber+1 < int64(chainCfg.RequiredConfirmations) {
		return nil
	}

	token, err := s.catalogRepo.GetToken(ctx, pending.ChainCode, pending.TokenCode)
	if err != nil {
		return err
	}
	if !token.Active {
		// 代币停用期间扣住不入账，保持 PENDING
		logger.Warn("deposit credit withheld, token inactive",
			zap.String("chain", pending.ChainCode),
			zap.String("token", pending.TokenCode),
			zap.String("tx_hash", pending.TxHash))
		return nil
	}

	credited := false
	err = s.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := s.pendingRepo.SettleOrder(txCtx, pending.TxHash, receipt.BlockNumber)
		if err != nil {
			return err
		}
		if !applied {
			// 订单已非 PENDING，仅同步交易状态
			return s.pendingRepo.UpdateStatus(txCtx, pending.TxHash, model.TxDirectionDeposit, model.PendingTxStatusConfirmed)
		}

		if err := s.book.AddBalance(txCtx, &ledger.Mutation{
			UserID:   pending.UserID,
			TokenID:  token.ID,
			Decimals: token.Decimals,
			Amount:   pending.Amount,
			LogType:  model.WalletLogTypeDeposit,
			OrderID:  pending.TxHash,
			Remark:   "deposit credited",
		}); err != nil {
			return err
		}

		if err := s.pendingRepo.UpdateStatus(txCtx, pending.TxHash, model.TxDirectionDeposit, model.PendingTxStatusConfirmed); err != nil {
			return err
		}

		credited = true
		return nil
	})
	if err != nil {
		metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeDeposit.String(), "error").Inc()
		return err
	}
	if !credited {
		return nil
	}

	metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeDeposit.String(), "ok").Inc()
	metrics.DepositOrdersTotal.WithLabelValues(pending.ChainCode, "settled").Inc()
	metrics.DepositConfirmDuration.WithLabelValues(pending.ChainCode).
		Observe(float64(time.Now().UnixMilli()-pending.CreatedAt) / 1000)

	logger.Info("deposit credited",
		zap.String("chain", pending.ChainCode),
		zap.String("tx_hash", pending.TxHash),
		zap.Int64("user_id", pending.UserID),
		zap.String("token", pending.TokenCode),
		zap.String("amount", pending.Amount.String()))

	if s.publisher != nil {
		event := &model.DepositCreditedEvent{
			TxHash:      pending.TxHash,
			UserID:      pending.UserID,
			ChainCode:   pending.ChainCode,
			TokenCode:   pending.TokenCode,
			Amount:      pending.Amount,
			Decimals:    pending.Decimals,
			BlockNumber: receipt.BlockNumber,
			CreditedAt:  time.Now().UnixMilli(),
		}
		if err := s.publisher.PublishDepositCredited(ctx, event); err != nil {
			// 入账已落库，事件失败只记日志
			metrics.EventsPublishedTotal.WithLabelValues(kafka.TopicDepositCredited, "error").Inc()
			logger.Error("failed to publish deposit credited event",
				zap.String("tx_hash", pending.TxHash),
				zap.Error(err))
		} else {
			metrics.EventsPublishedTotal.WithLabelValues(kafka.TopicDepositCredited, "ok").Inc()
		}
	}

	// 归集异步发起，失败由归集巡检兜底
	if s.collector != nil {
		go func(p model.PendingTransaction) {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.collector.CollectDeposit(cctx, &p); err != nil {
				logger.Error("collection kickoff failed",
					zap.String("chain", p.ChainCode),
					zap.String("tx_hash", p.TxHash),
					zap.Error(err))
			}
		}(*pending)
	}

	return nil
}

// failDeposit 回执失败的充值置为终态
func (s *ConfirmService) failDeposit(ctx context.Context, pending *model.PendingTransaction, reason string) error {
	err := s.base.Transaction(ctx, func(txCtx context.Context) error {
		if _, err := s.pendingRepo.FailOrder(txCtx, pending.TxHash, reason); err != nil {
			return err
		}
		return s.pendingRepo.UpdateStatus(txCtx, pending.TxHash, model.TxDirectionDeposit, model.PendingTxStatusFailed)
	})
	if err != nil {
		return err
	}

	metrics.DepositOrdersTotal.WithLabelValues(pending.ChainCode, "failed").Inc()
	logger.Warn("deposit failed on chain",
		zap.String("chain", pending.ChainCode),
		zap.String("tx_hash", pending.TxHash),
		zap.String("reason", reason))
	return nil
}
