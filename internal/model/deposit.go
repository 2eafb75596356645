package model

import "github.com/shopspring/decimal"

// TxDirection 交易方向
type TxDirection int8

const (
	TxDirectionDeposit  TxDirection = 0 // 充值
	TxDirectionWithdraw TxDirection = 1 // 提现
)

func (d TxDirection) String() string {
	switch d {
	case TxDirectionDeposit:
		return "DEPOSIT"
	case TxDirectionWithdraw:
		return "WITHDRAW"
	default:
		return "UNKNOWN"
	}
}

// PendingTxStatus 链上待确认交易状态
type PendingTxStatus int8

const (
	PendingTxStatusPending   PendingTxStatus = 0 // 待确认
	PendingTxStatusConfirmed PendingTxStatus = 1 // 已确认
	PendingTxStatusFailed    PendingTxStatus = 2 // 失败
)

func (s PendingTxStatus) String() string {
	switch s {
	case PendingTxStatusPending:
		return "PENDING"
	case PendingTxStatusConfirmed:
		return "CONFIRMED"
	case PendingTxStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PendingTransaction 链上待确认交易
// 按 (tx_hash, direction) 唯一，重复摄入为 no-op
type PendingTransaction struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash      string          `gorm:"column:tx_hash;type:varchar(66);not null;uniqueIndex:uk_hash_direction" json:"tx_hash"`
	Direction   TxDirection     `gorm:"column:direction;type:smallint;not null;uniqueIndex:uk_hash_direction" json:"direction"`
	ChainCode   string          `gorm:"column:chain_code;type:varchar(20);index;not null" json:"chain_code"`
	FromAddress string          `gorm:"column:from_address;type:varchar(64);not null" json:"from_address"`
	ToAddress   string          `gorm:"column:to_address;type:varchar(64);index;not null" json:"to_address"`
	TokenCode   string          `gorm:"column:token_code;type:varchar(20);not null" json:"token_code"`
	Decimals    int32           `gorm:"column:decimals;type:int;not null" json:"decimals"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	BlockNumber int64           `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	UserID      int64           `gorm:"column:user_id;type:bigint;index;not null" json:"user_id"`
	Status      PendingTxStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	CreatedAt   int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt   int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PendingTransaction) TableName() string {
	return "custody_pending_transactions"
}

// DepositOrderStatus 充值订单状态
type DepositOrderStatus int8

const (
	DepositOrderStatusPending DepositOrderStatus = 0 // 待确认
	DepositOrderStatusSettled DepositOrderStatus = 1 // 已入账
	DepositOrderStatusFailed  DepositOrderStatus = 2 // 失败
)

func (s DepositOrderStatus) String() string {
	switch s {
	case DepositOrderStatusPending:
		return "PENDING"
	case DepositOrderStatusSettled:
		return "SETTLED"
	case DepositOrderStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// DepositOrder 充值订单
// 与 PendingTransaction 按 tx_hash 一比一，创建与状态迁移均幂等
type DepositOrder struct {
	ID            int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash        string             `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	UserID        int64              `gorm:"column:user_id;type:bigint;index;not null" json:"user_id"`
	ChainCode     string             `gorm:"column:chain_code;type:varchar(20);not null" json:"chain_code"`
	TokenCode     string             `gorm:"column:token_code;type:varchar(20);not null" json:"token_code"`
	Decimals      int32              `gorm:"column:decimals;type:int;not null" json:"decimals"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	ConfirmBlock  int64              `gorm:"column:confirm_block;type:bigint" json:"confirm_block"`
	Status        DepositOrderStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	FailureReason string             `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	CreatedAt     int64              `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64              `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (DepositOrder) TableName() string {
	return "custody_deposit_orders"
}

// DepositCreditedEvent 充值入账事件 (发送到 Kafka)
type DepositCreditedEvent struct {
	TxHash      string          `json:"tx_hash"`
	UserID      int64           `json:"user_id"`
	ChainCode   string          `json:"chain_code"`
	TokenCode   string          `json:"token_code"`
	Amount      decimal.Decimal `json:"amount"`
	Decimals    int32           `json:"decimals"`
	BlockNumber int64           `json:"block_number"`
	CreditedAt  int64           `json:"credited_at"`
}
