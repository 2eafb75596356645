package model

import "github.com/shopspring/decimal"

// WalletLogType 资金流水类型
type WalletLogType int8

const (
	WalletLogTypeDeposit          WalletLogType = 0 // 充值入账
	WalletLogTypeWithdrawFreeze   WalletLogType = 1 // 提现冻结
	WalletLogTypeWithdrawUnfreeze WalletLogType = 2 // 提现解冻
	WalletLogTypeWithdrawSettle   WalletLogType = 3 // 提现核销
	WalletLogTypeAdjust           WalletLogType = 4 // 人工调账
)

func (t WalletLogType) String() string {
	switch t {
	case WalletLogTypeDeposit:
		return "DEPOSIT"
	case WalletLogTypeWithdrawFreeze:
		return "WITHDRAW_FREEZE"
	case WalletLogTypeWithdrawUnfreeze:
		return "WITHDRAW_UNFREEZE"
	case WalletLogTypeWithdrawSettle:
		return "WITHDRAW_SETTLE"
	case WalletLogTypeAdjust:
		return "ADJUST"
	default:
		return "UNKNOWN"
	}
}

// WalletBalanceStatus 钱包状态
type WalletBalanceStatus int8

const (
	WalletBalanceStatusNormal WalletBalanceStatus = 0 // 正常
	WalletBalanceStatusFrozen WalletBalanceStatus = 1 // 禁止出金
)

// WalletBalance 用户余额
// 余额以最小单位整数存储，非负约束由条件 UPDATE 保证，不依赖应用层锁
type WalletBalance struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64               `gorm:"column:user_id;type:bigint;not null;uniqueIndex:uk_user_token" json:"user_id"`
	TokenID       int64               `gorm:"column:token_id;type:bigint;not null;uniqueIndex:uk_user_token" json:"token_id"`
	Balance       decimal.Decimal     `gorm:"column:balance;type:decimal(65,0);not null;default:0" json:"balance"`
	FrozenBalance decimal.Decimal     `gorm:"column:frozen_balance;type:decimal(65,0);not null;default:0" json:"frozen_balance"`
	Decimals      int32               `gorm:"column:decimals;type:int;not null" json:"decimals"`
	Status        WalletBalanceStatus `gorm:"column:status;type:smallint;not null;default:0" json:"status"`
	CreatedAt     int64               `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64               `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (WalletBalance) TableName() string {
	return "custody_wallet_balances"
}

// WalletLog 资金流水
// 追加写；同一 (user_id, token_id) 下按创建顺序 after_balance 链式衔接
type WalletLog struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64           `gorm:"column:user_id;type:bigint;index:idx_user_token;not null" json:"user_id"`
	TokenID       int64           `gorm:"column:token_id;type:bigint;index:idx_user_token;not null" json:"token_id"`
	LogType       WalletLogType   `gorm:"column:log_type;type:smallint;not null" json:"log_type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	BeforeBalance decimal.Decimal `gorm:"column:before_balance;type:decimal(65,0);not null" json:"before_balance"`
	AfterBalance  decimal.Decimal `gorm:"column:after_balance;type:decimal(65,0);not null" json:"after_balance"`
	OrderID       string          `gorm:"column:order_id;type:varchar(64);index" json:"order_id"`
	Remark        string          `gorm:"column:remark;type:varchar(255)" json:"remark"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (WalletLog) TableName() string {
	return "custody_wallet_logs"
}
