package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrWalletNotFound      = errors.New("ledger: wallet not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient available balance")
	ErrInsufficientFrozen  = errors.New("ledger: insufficient frozen balance")
)

// createRetries 并发首笔入账建行竞争的重试次数
const createRetries = 3

// Mutation 一次余额变更
// Amount 恒为正数，方向由调用的方法决定；金额单位为代币最小单位
type Mutation struct {
	UserID   int64
	TokenID  int64
	Decimals int32
	Amount   decimal.Decimal
	LogType  model.WalletLogType
	OrderID  string
	Remark   string
}

// Ledger 资金账本
// 每次变更在一个数据库事务内完成条件 UPDATE 与一条流水的追加写；
// ctx 携带外部事务时加入该事务，与订单状态迁移保持原子
type Ledger struct {
	walletRepo repository.WalletRepository
	base       *repository.Repository
}

// NewLedger 创建资金账本
func NewLedger(walletRepo repository.WalletRepository, base *repository.Repository) *Ledger {
	return &Ledger{
		walletRepo: walletRepo,
		base:       base,
	}
}

// AddBalance 增加可用余额
// 余额行不存在时创建初始行；ON CONFLICT DO NOTHING 吸收并发创建，
// 冲突不中断当前事务，输掉竞争的一方重走 UPDATE 路径
func (l *Ledger) AddBalance(ctx context.Context, m *Mutation) error {
	if err := validate(m); err != nil {
		return err
	}
	return l.base.Transaction(ctx, func(txCtx context.Context) error {
		for i := 0; i < createRetries; i++ {
			applied, err := l.walletRepo.AddBalance(txCtx, m.UserID, m.TokenID, m.Amount)
			if err != nil {
				return err
			}
			if applied {
				return l.appendLog(txCtx, m, m.Amount)
			}

			created, err := l.walletRepo.CreateRow(txCtx, &model.WalletBalance{
				UserID:        m.UserID,
				TokenID:       m.TokenID,
				Balance:       m.Amount,
				FrozenBalance: decimal.Zero,
				Decimals:      m.Decimals,
			})
			if err != nil {
				return err
			}
			if created {
				return l.appendLog(txCtx, m, m.Amount)
			}
			// 另一并发事务抢先建行，重走 UPDATE 路径
			logger.Debug("wallet row create raced, retrying",
				zap.Int64("user_id", m.UserID),
				zap.Int64("token_id", m.TokenID))
		}
		return fmt.Errorf("ledger: add balance retries exhausted for user %d token %d", m.UserID, m.TokenID)
	})
}

// SubBalance 扣减可用余额
func (l *Ledger) SubBalance(ctx context.Context, m *Mutation) error {
	if err := validate(m); err != nil {
		return err
	}
	return l.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := l.walletRepo.SubBalance(txCtx, m.UserID, m.TokenID, m.Amount)
		if err != nil {
			return err
		}
		if !applied {
			return l.classifyRejection(txCtx, m, ErrInsufficientBalance)
		}
		return l.appendLog(txCtx, m, m.Amount.Neg())
	})
}

// Freeze 将可用余额转入冻结
func (l *Ledger) Freeze(ctx context.Context, m *Mutation) error {
	if err := validate(m); err != nil {
		return err
	}
	return l.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := l.walletRepo.Freeze(txCtx, m.UserID, m.TokenID, m.Amount)
		if err != nil {
			return err
		}
		if !applied {
			return l.classifyRejection(txCtx, m, ErrInsufficientBalance)
		}
		return l.appendLog(txCtx, m, m.Amount.Neg())
	})
}

// Unfreeze 将冻结余额转回可用
func (l *Ledger) Unfreeze(ctx context.Context, m *Mutation) error {
	if err := validate(m); err != nil {
		return err
	}
	return l.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := l.walletRepo.Unfreeze(txCtx, m.UserID, m.TokenID, m.Amount)
		if err != nil {
			return err
		}
		if !applied {
			return l.classifyRejection(txCtx, m, ErrInsufficientFrozen)
		}
		return l.appendLog(txCtx, m, m.Amount)
	})
}

// SubFrozen 核销冻结余额（提现成功出账）
func (l *Ledger) SubFrozen(ctx context.Context, m *Mutation) error {
	if err := validate(m); err != nil {
		return err
	}
	return l.base.Transaction(ctx, func(txCtx context.Context) error {
		applied, err := l.walletRepo.SubFrozen(txCtx, m.UserID, m.TokenID, m.Amount)
		if err != nil {
			return err
		}
		if !applied {
			return l.classifyRejection(txCtx, m, ErrInsufficientFrozen)
		}
		return l.appendLog(txCtx, m, decimal.Zero)
	})
}

// GetBalance 查询余额
func (l *Ledger) GetBalance(ctx context.Context, userID, tokenID int64) (*model.WalletBalance, error) {
	balance, err := l.walletRepo.Get(ctx, userID, tokenID)
	if errors.Is(err, repository.ErrWalletRowNotFound) {
		return nil, ErrWalletNotFound
	}
	return balance, err
}

// classifyRejection 条件 UPDATE 零行时区分“行不存在”与“余额不足”
func (l *Ledger) classifyRejection(ctx context.Context, m *Mutation, insufficient error) error {
	_, err := l.walletRepo.Get(ctx, m.UserID, m.TokenID)
	if errors.Is(err, repository.ErrWalletRowNotFound) {
		return ErrWalletNotFound
	}
	if err != nil {
		return err
	}
	return insufficient
}

// appendLog 追加一条流水，before/after 按更新后的可用余额回推
// delta 为可用余额的带符号变化量；核销冻结不动可用余额，delta 为零
func (l *Ledger) appendLog(ctx context.Context, m *Mutation, delta decimal.Decimal) error {
	balance, err := l.walletRepo.Get(ctx, m.UserID, m.TokenID)
	if err != nil {
		return err
	}
	return l.walletRepo.AppendLog(ctx, &model.WalletLog{
		UserID:        m.UserID,
		TokenID:       m.TokenID,
		LogType:       m.LogType,
		Amount:        signedAmount(m, delta),
		BeforeBalance: balance.Balance.Sub(delta),
		AfterBalance:  balance.Balance,
		OrderID:       m.OrderID,
		Remark:        m.Remark,
	})
}

// signedAmount 流水金额
// 可用余额有变化时记其带符号变化量，核销冻结记负的核销额
func signedAmount(m *Mutation, delta decimal.Decimal) decimal.Decimal {
	if !delta.IsZero() {
		return delta
	}
	return m.Amount.Neg()
}

func validate(m *Mutation) error {
	if m == nil || !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
