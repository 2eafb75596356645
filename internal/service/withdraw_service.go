// ========================================
// WithdrawService 提现服务
// ========================================
//
// ## 功能概述
// 提现订单全生命周期：下单冻结、审核、热钱包广播、链上确认、核销。
// 状态机 PENDING -> APPROVED -> PROCESSING -> CONFIRMED -> SETTLED，
// 每次迁移都是条件 UPDATE，重复触发为 no-op。
//
// ## 资金约束
// - 下单与冻结同事务；冻结失败订单不落库
// - 核销 (扣减冻结) 与 CONFIRMED -> SETTLED 迁移同事务
// - 失败/取消时解冻与终态迁移同事务
// - 广播失败订单保持 APPROVED，由下一轮处理重试
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/kafka"
	"github.com/aether-exchange/aether-custody/internal/ledger"
	"github.com/aether-exchange/aether-custody/internal/metrics"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/internal/vault"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

var (
	ErrInvalidWithdrawAmount  = errors.New("withdraw amount must exceed fee")
	ErrInvalidWithdrawAddress = errors.New("invalid withdraw address")
	ErrTokenNotWithdrawable   = errors.New("token not available for withdrawal")
	ErrUnresolvedWithdraw     = errors.New("user has an unresolved withdraw order")
	ErrWithdrawNotConfigured  = errors.New("withdrawal not configured for chain")
)

// WithdrawChainConfig 单链提现配置
type WithdrawChainConfig struct {
	HotWalletAddress string // 热钱包地址，提现出金来源
	HotWalletKeyID   string // 热钱包私钥在 Vault 中的引用
}

// WithdrawServiceConfig 配置
type WithdrawServiceConfig struct {
	Chains       map[string]*WithdrawChainConfig
	BatchSize    int           // 单轮最多处理的已审批订单数
	PollInterval time.Duration // 等待终态的轮询间隔
	AwaitTimeout time.Duration // 等待终态的上限
}

// CreateWithdrawParams 下单参数
// Amount 为用户可读单位，手续费按代币费率计算
type CreateWithdrawParams struct {
	UserID    int64
	ChainCode string
	TokenCode string
	Amount    decimal.Decimal
	ToAddress string
}

// WithdrawService 提现服务
type WithdrawService struct {
	registry     *chain.Registry
	sender       *chain.Sender
	catalogRepo  repository.CatalogRepository
	withdrawRepo repository.WithdrawRepository
	book         *ledger.Ledger
	base         *repository.Repository
	keyVault     vault.KeyStore
	publisher    kafka.EventPublisher

	chains       map[string]*WithdrawChainConfig
	batchSize    int
	pollInterval time.Duration
	awaitTimeout time.Duration
}

// NewWithdrawService 创建提现服务
func NewWithdrawService(
	registry *chain.Registry,
	sender *chain.Sender,
	catalogRepo repository.CatalogRepository,
	withdrawRepo repository.WithdrawRepository,
	book *ledger.Ledger,
	base *repository.Repository,
	keyVault vault.KeyStore,
	publisher kafka.EventPublisher,
	cfg *WithdrawServiceConfig,
) *WithdrawService {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 50
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	awaitTimeout := cfg.AwaitTimeout
	if awaitTimeout == 0 {
		awaitTimeout = 3 * time.Minute
	}

	return &WithdrawService{
		registry:     registry,
		sender:       sender,
		catalogRepo:  catalogRepo,
		withdrawRepo: withdrawRepo,
		book:         book,
		base:         base,
		keyVault:     keyVault,
		publisher:    publisher,
		chains:       cfg.Chains,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		awaitTimeout: awaitTimeout,
	}
}

// CreateWithdraw 创建提现订单并冻结金额
// 同一用户同时只允许一笔未到终态的提现
func (s *WithdrawService) CreateWithdraw(ctx context.Context, params *CreateWithdrawParams) (*model.WithdrawOrder, error) {
	token, err := s.catalogRepo.GetToken(ctx, params.ChainCode, params.TokenCode)
	if err != nil {
		return nil, err
	}
	if !token.Active {
		return nil, ErrTokenNotWithdrawable
	}

	fee := token.WithdrawFee(params.Amount)
	actual := params.Amount.Sub(fee)
	if !actual.IsPositive() {
		return nil, ErrInvalidWithdrawAmount
	}

	adapter, err := s.registry.Get(params.ChainCode)
	if err != nil {
		return nil, err
	}
	if !adapter.ValidateAddress(params.ToAddress) {
		return nil, ErrInvalidWithdrawAddress
	}

	unresolved, err := s.withdrawRepo.HasUnresolved(ctx, params.UserID)
	if err != nil {
		return nil, err
	}
	if unresolved {
		return nil, ErrUnresolvedWithdraw
	}

	order := &model.WithdrawOrder{
		OrderNo:      generateOrderNo(),
		UserID:       params.UserID,
		ChainCode:    params.ChainCode,
		TokenCode:    params.TokenCode,
		TokenID:      token.ID,
		Decimals:     token.Decimals,
		Amount:       params.Amount,
		Fee:          fee,
		ActualAmount: actual,
		ToAddress:    params.ToAddress,
		Status:       model.WithdrawStatusPending,
	}

	err = s.base.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.withdrawRepo.Create(txCtx, order); err != nil {
			return err
		}
		return s.book.Freeze(txCtx, &ledger.Mutation{
			UserID:   order.UserID,
			TokenID:  order.TokenID,
			Decimals: order.Decimals,
			Amount:   order.FrozenUnits(),
			LogType:  model.WalletLogTypeWithdrawFreeze,
			OrderID:  order.OrderNo,
			Remark:   "withdraw frozen",
		})
	})
	if errors.Is(err, repository.ErrDuplicateWithdraw) {
		// 未完结订单唯一部分索引拦下了并发下单
		return nil, ErrUnresolvedWithdraw
	}
	if err != nil {
		metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeWithdrawFreeze.String(), mutationResult(err)).Inc()
		return nil, err
	}
	metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeWithdrawFreeze.String(), "ok").Inc()
	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusPending.String()).Inc()

	logger.Info("withdraw order created",
		zap.String("order_no", order.OrderNo),
		zap.Int64("user_id", order.UserID),
		zap.String("chain", order.ChainCode),
		zap.String("token", order.TokenCode),
		zap.String("amount", order.Amount.String()))

	s.publishStatus(ctx, order, model.WithdrawStatusPending, "", "")
	return order, nil
}

// Approve 审核通过
func (s *WithdrawService) Approve(ctx context.Context, orderNo string) error {
	applied, err := s.withdrawRepo.TransitionStatus(ctx, orderNo,
		model.WithdrawStatusPending, model.WithdrawStatusApproved, nil)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	order, err := s.withdrawRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusApproved.String()).Inc()
	logger.Info("withdraw order approved", zap.String("order_no", orderNo))
	s.publishStatus(ctx, order, model.WithdrawStatusApproved, "", "")
	return nil
}

// Cancel 取消订单并解冻
// 仅 PENDING 可取消
func (s *WithdrawService) Cancel(ctx context.Context, orderNo, reason string) error {
	order, err := s.withdrawRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}

	cancelled := false
	err = s.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := s.withdrawRepo.TransitionStatus(txCtx, orderNo,
			model.WithdrawStatusPending, model.WithdrawStatusCancelled,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		cancelled = true
		return s.book.Unfreeze(txCtx, &ledger.Mutation{
			UserID:   order.UserID,
			TokenID:  order.TokenID,
			Decimals: order.Decimals,
			Amount:   order.FrozenUnits(),
			LogType:  model.WalletLogTypeWithdrawUnfreeze,
			OrderID:  order.OrderNo,
			Remark:   "withdraw cancelled",
		})
	})
	if err != nil {
		return err
	}
	if !cancelled {
		return nil
	}

	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusCancelled.String()).Inc()
	logger.Info("withdraw order cancelled",
		zap.String("order_no", orderNo),
		zap.String("reason", reason))
	s.publishStatus(ctx, order, model.WithdrawStatusCancelled, "", reason)
	return nil
}

// HandleReviewDecision 消费审核决定
func (s *WithdrawService) HandleReviewDecision(ctx context.Context, decision *model.WithdrawReviewDecision) error {
	if decision.Approved {
		return s.Approve(ctx, decision.OrderNo)
	}
	reason := decision.Reason
	if reason == "" {
		reason = "rejected by reviewer"
	}
	return s.Cancel(ctx, decision.OrderNo, reason)
}

// ProcessChain 广播一条链上已审批的提现
func (s *WithdrawService) ProcessChain(ctx context.Context, chainCode string) error {
	cfg, ok := s.chains[chainCode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWithdrawNotConfigured, chainCode)
	}

	orders, err := s.withdrawRepo.ListByStatus(ctx, chainCode, model.WithdrawStatusApproved, s.batchSize)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if err := s.processOne(ctx, cfg, order); err != nil {
			// 广播失败订单保持 APPROVED，下一轮重试
			logger.Error("withdraw broadcast failed",
				zap.String("order_no", order.OrderNo),
				zap.String("chain", chainCode),
				zap.Error(err))
		}
	}
	return nil
}

// processOne 广播单笔提现并等待终态
func (s *WithdrawService) processOne(ctx context.Context, cfg *WithdrawChainConfig, order *model.WithdrawOrder) error {
	token, err := s.catalogRepo.GetToken(ctx, order.ChainCode, order.TokenCode)
	if err != nil {
		return err
	}

	hotKey, err := s.keyVault.Get(ctx, cfg.HotWalletKeyID)
	if err != nil {
		return err
	}

	txHash, err := s.sender.Send(ctx, order.ChainCode, &chain.TransferRequest{
		FromAddress:     cfg.HotWalletAddress,
		PrivateKeyHex:   hotKey,
		ToAddress:       order.ToAddress,
		ContractAddress: token.ContractAddress,
		Amount:          order.ActualAmount.Shift(order.Decimals),
	})
	if err != nil {
		return err
	}

	applied, err := s.withdrawRepo.TransitionStatus(ctx, order.OrderNo,
		model.WithdrawStatusApproved, model.WithdrawStatusProcessing,
		map[string]interface{}{"tx_hash": txHash})
	if err != nil {
		return err
	}
	if !applied {
		logger.Warn("withdraw already transitioned after broadcast",
			zap.String("order_no", order.OrderNo),
			zap.String("tx_hash", txHash))
		return nil
	}

	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusProcessing.String()).Inc()
	metrics.WithdrawBroadcastDuration.WithLabelValues(order.ChainCode).
		Observe(float64(time.Now().UnixMilli()-order.UpdatedAt) / 1000)

	logger.Info("withdraw broadcast",
		zap.String("order_no", order.OrderNo),
		zap.String("chain", order.ChainCode),
		zap.String("tx_hash", txHash))
	s.publishStatus(ctx, order, model.WithdrawStatusProcessing, txHash, "")

	return s.await(ctx, order, txHash)
}

// await 有界等待广播后的链上终态
// 超时保持 PROCESSING，由对账任务兜底
func (s *WithdrawService) await(ctx context.Context, order *model.WithdrawOrder, txHash string) error {
	adapter, err := s.registry.Get(order.ChainCode)
	if err != nil {
		return err
	}
	chainCfg, err := s.catalogRepo.GetChain(ctx, order.ChainCode)
	if err != nil {
		return err
	}

	result, err := chain.WaitForStatus(ctx, adapter, txHash,
		int64(chainCfg.RequiredConfirmations), s.pollInterval, s.awaitTimeout)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case chain.WaitOutcomeConfirmed:
		return s.settle(ctx, order, txHash)
	case chain.WaitOutcomeFailed:
		return s.fail(ctx, order, txHash, "transaction reverted on chain")
	default:
		logger.Warn("withdraw await timed out",
			zap.String("order_no", order.OrderNo),
			zap.String("tx_hash", txHash))
		return nil
	}
}

// settle 确认并核销：扣减冻结金额
func (s *WithdrawService) settle(ctx context.Context, order *model.WithdrawOrder, txHash string) error {
	applied, err := s.withdrawRepo.TransitionStatus(ctx, order.OrderNo,
		model.WithdrawStatusProcessing, model.WithdrawStatusConfirmed, nil)
	if err != nil {
		return err
	}
	if applied {
		metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusConfirmed.String()).Inc()
		s.publishStatus(ctx, order, model.WithdrawStatusConfirmed, txHash, "")
	}

	settled := false
	err = s.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := s.withdrawRepo.TransitionStatus(txCtx, order.OrderNo,
			model.WithdrawStatusConfirmed, model.WithdrawStatusSettled, nil)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		settled = true
		return s.book.SubFrozen(txCtx, &ledger.Mutation{
			UserID:   order.UserID,
			TokenID:  order.TokenID,
			Decimals: order.Decimals,
			Amount:   order.FrozenUnits(),
			LogType:  model.WalletLogTypeWithdrawSettle,
			OrderID:  order.OrderNo,
			Remark:   "withdraw settled",
		})
	})
	if err != nil {
		metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeWithdrawSettle.String(), mutationResult(err)).Inc()
		return err
	}
	if !settled {
		return nil
	}

	metrics.LedgerMutationsTotal.WithLabelValues(model.WalletLogTypeWithdrawSettle.String(), "ok").Inc()
	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusSettled.String()).Inc()
	logger.Info("withdraw settled",
		zap.String("order_no", order.OrderNo),
		zap.String("tx_hash", txHash))
	s.publishStatus(ctx, order, model.WithdrawStatusSettled, txHash, "")
	return nil
}

// fail 广播后链上失败：置终态并解冻
func (s *WithdrawService) fail(ctx context.Context, order *model.WithdrawOrder, txHash, reason string) error {
	failed := false
	err := s.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := s.withdrawRepo.TransitionStatus(txCtx, order.OrderNo,
			model.WithdrawStatusProcessing, model.WithdrawStatusFailed,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		failed = true
		return s.book.Unfreeze(txCtx, &ledger.Mutation{
			UserID:   order.UserID,
			TokenID:  order.TokenID,
			Decimals: order.Decimals,
			Amount:   order.FrozenUnits(),
			LogType:  model.WalletLogTypeWithdrawUnfreeze,
			OrderID:  order.OrderNo,
			Remark:   "withdraw failed, frozen amount released",
		})
	})
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}

	metrics.WithdrawOrdersTotal.WithLabelValues(order.ChainCode, model.WithdrawStatusFailed.String()).Inc()
	logger.Warn("withdraw failed on chain",
		zap.String("order_no", order.OrderNo),
		zap.String("tx_hash", txHash),
		zap.String("reason", reason))
	s.publishStatus(ctx, order, model.WithdrawStatusFailed, txHash, reason)
	return nil
}

// ReconcileChain 对账未收敛的 PROCESSING 订单
// 覆盖等待超时与进程重启两类场景
func (s *WithdrawService) ReconcileChain(ctx context.Context, chainCode string) error {
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

	orders, err := s.withdrawRepo.ListByStatus(ctx, chainCode, model.WithdrawStatusProcessing, s.batchSize)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if order.TxHash == "" {
			continue
		}

		receipt, err := adapter.TransactionReceipt(ctx, order.TxHash)
		if errors.Is(err, chain.ErrTxNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if !receipt.Success {
			if err := s.fail(ctx, order, order.TxHash, "transaction reverted on chain"); err != nil {
				return err
			}
			continue
		}

		if latest-receipt.BlockNumber+1 >= int64(chainCfg.RequiredConfirmations) {
			if err := s.settle(ctx, order, order.TxHash); err != nil {
				return err
			}
		}
	}
	return nil
}

// publishStatus 发布提现状态事件，失败只记日志
func (s *WithdrawService) publishStatus(ctx context.Context, order *model.WithdrawOrder, status model.WithdrawStatus, txHash, reason string) {
	if s.publisher == nil {
		return
	}

	event := &model.WithdrawStatusEvent{
		OrderNo:    order.OrderNo,
		UserID:     order.UserID,
		ChainCode:  order.ChainCode,
		TokenCode:  order.TokenCode,
		Status:     status.String(),
		TxHash:     txHash,
		Reason:     reason,
		OccurredAt: time.Now().UnixMilli(),
	}
	if err := s.publisher.PublishWithdrawStatus(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(kafka.TopicWithdrawStatus, "error").Inc()
		logger.Error("failed to publish withdraw status event",
			zap.String("order_no", order.OrderNo),
			zap.String("status", status.String()),
			zap.Error(err))
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(kafka.TopicWithdrawStatus, "ok").Inc()
}

// mutationResult 把账本错误映射为指标标签
func mutationResult(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFrozen):
		return "insufficient"
	case errors.Is(err, ledger.ErrWalletNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// generateOrderNo 生成提现订单号
func generateOrderNo() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("W%s%s", time.Now().Format("20060102150405"), suffix)
}
