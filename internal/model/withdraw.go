package model

import "github.com/shopspring/decimal"

// WithdrawStatus 提现订单状态
type WithdrawStatus int8

const (
	WithdrawStatusPending    WithdrawStatus = 0 // 已创建，金额已冻结
	WithdrawStatusApproved   WithdrawStatus = 1 // 审核通过
	WithdrawStatusProcessing WithdrawStatus = 2 // 已广播
	WithdrawStatusConfirmed  WithdrawStatus = 3 // 链上已确认
	WithdrawStatusSettled    WithdrawStatus = 4 // 冻结金额已核销
	WithdrawStatusFailed     WithdrawStatus = 5 // 失败，已解冻
	WithdrawStatusCancelled  WithdrawStatus = 6 // 用户取消，已解冻
)

func (s WithdrawStatus) String() string {
	switch s {
	case WithdrawStatusPending:
		return "PENDING"
	case WithdrawStatusApproved:
		return "APPROVED"
	case WithdrawStatusProcessing:
		return "PROCESSING"
	case WithdrawStatusConfirmed:
		return "CONFIRMED"
	case WithdrawStatusSettled:
		return "SETTLED"
	case WithdrawStatusFailed:
		return "FAILED"
	case WithdrawStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s WithdrawStatus) IsTerminal() bool {
	return s == WithdrawStatusSettled || s == WithdrawStatusFailed || s == WithdrawStatusCancelled
}

// CanTransitionTo 状态机约束
// PENDING → APPROVED → PROCESSING → CONFIRMED → SETTLED
// FAILED 可从 PENDING/PROCESSING 到达，CANCELLED 仅可从 PENDING 到达
func (s WithdrawStatus) CanTransitionTo(next WithdrawStatus) bool {
	switch s {
	case WithdrawStatusPending:
		return next == WithdrawStatusApproved || next == WithdrawStatusCancelled || next == WithdrawStatusFailed
	case WithdrawStatusApproved:
		return next == WithdrawStatusProcessing
	case WithdrawStatusProcessing:
		return next == WithdrawStatusConfirmed || next == WithdrawStatusFailed
	case WithdrawStatusConfirmed:
		return next == WithdrawStatusSettled
	default:
		return false
	}
}

// UnresolvedWithdrawStatuses 返回所有未到终态的状态
// 用于未完结订单查询，与 IsTerminal 保持一致
func UnresolvedWithdrawStatuses() []WithdrawStatus {
	var statuses []WithdrawStatus
	for s := WithdrawStatusPending; s <= WithdrawStatusCancelled; s++ {
		if !s.IsTerminal() {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

// WithdrawOrder 提现订单
// 金额字段均为用户可读单位，冻结与核销按 decimals 换算为最小单位
type WithdrawOrder struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string          `gorm:"column:order_no;type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID        int64           `gorm:"column:user_id;type:bigint;index;not null" json:"user_id"`
	ChainCode     string          `gorm:"column:chain_code;type:varchar(20);not null" json:"chain_code"`
	TokenCode     string          `gorm:"column:token_code;type:varchar(20);not null" json:"token_code"`
	TokenID       int64           `gorm:"column:token_id;type:bigint;not null" json:"token_id"`
	Decimals      int32           `gorm:"column:decimals;type:int;not null" json:"decimals"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	Fee           decimal.Decimal `gorm:"column:fee;type:decimal(36,18);not null" json:"fee"`
	ActualAmount  decimal.Decimal `gorm:"column:actual_amount;type:decimal(36,18);not null" json:"actual_amount"`
	ToAddress     string          `gorm:"column:to_address;type:varchar(64);not null" json:"to_address"`
	TxHash        string          `gorm:"column:tx_hash;type:varchar(66);index" json:"tx_hash"`
	Status        WithdrawStatus  `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	FailureReason string          `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (WithdrawOrder) TableName() string {
	return "custody_withdraw_orders"
}

// FrozenUnits 返回按最小单位表示的冻结金额
func (o *WithdrawOrder) FrozenUnits() decimal.Decimal {
	return o.Amount.Shift(o.Decimals)
}

// WithdrawStatusEvent 提现状态事件 (发送到 Kafka)
type WithdrawStatusEvent struct {
	OrderNo   string `json:"order_no"`
	UserID    int64  `json:"user_id"`
	ChainCode string `json:"chain_code"`
	TokenCode string `json:"token_code"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
	Reason    string `json:"reason,omitempty"`
	OccurredAt int64 `json:"occurred_at"`
}

// WithdrawReviewDecision 提现审核决定 (从 Kafka 消费)
type WithdrawReviewDecision struct {
	OrderNo  string `json:"order_no"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}
