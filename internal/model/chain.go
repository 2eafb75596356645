package model

import "github.com/shopspring/decimal"

// ChainCode 链代码
const (
	ChainETH  = "ETH"
	ChainTRON = "TRON"
)

// ChainConfig 链配置
// 运行期只读，所有按链工作器共享同一行
type ChainConfig struct {
	ID                    int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainCode             string `gorm:"column:chain_code;type:varchar(20);uniqueIndex;not null" json:"chain_code"`
	Name                  string `gorm:"column:name;type:varchar(50);not null" json:"name"`
	RPCURL                string `gorm:"column:rpc_url;type:varchar(255);not null" json:"rpc_url"`
	RequiredConfirmations int    `gorm:"column:required_confirmations;type:int;not null;default:12" json:"required_confirmations"`
	Enabled               bool   `gorm:"column:enabled;not null;default:true" json:"enabled"`
	CreatedAt             int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt             int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ChainConfig) TableName() string {
	return "custody_chains"
}

// Token 代币配置
// ContractAddress 为空表示链原生资产
type Token struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenCode       string          `gorm:"column:token_code;type:varchar(20);not null;uniqueIndex:uk_token_chain" json:"token_code"`
	ChainCode       string          `gorm:"column:chain_code;type:varchar(20);not null;uniqueIndex:uk_token_chain" json:"chain_code"`
	ContractAddress string          `gorm:"column:contract_address;type:varchar(64)" json:"contract_address"`
	Decimals        int32           `gorm:"column:decimals;type:int;not null" json:"decimals"`
	WithdrawFeeRate decimal.Decimal `gorm:"column:withdraw_fee_rate;type:decimal(10,6);not null;default:0" json:"withdraw_fee_rate"`
	MinWithdrawFee  decimal.Decimal `gorm:"column:min_withdraw_fee;type:decimal(36,18);not null;default:0" json:"min_withdraw_fee"`
	MaxWithdrawFee  decimal.Decimal `gorm:"column:max_withdraw_fee;type:decimal(36,18);not null;default:0" json:"max_withdraw_fee"`
	Active          bool            `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Token) TableName() string {
	return "custody_tokens"
}

// IsNative 是否为链原生资产
func (t *Token) IsNative() bool {
	return t.ContractAddress == ""
}

// WithdrawFee 按费率计算提现手续费并做上下限钳制
// MaxWithdrawFee 为 0 表示不设上限
func (t *Token) WithdrawFee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(t.WithdrawFeeRate)
	if fee.LessThan(t.MinWithdrawFee) {
		fee = t.MinWithdrawFee
	}
	if t.MaxWithdrawFee.IsPositive() && fee.GreaterThan(t.MaxWithdrawFee) {
		fee = t.MaxWithdrawFee
	}
	return fee
}

// DepositAddress 用户充值地址
// 私钥材料只存在 Vault 中，这里仅引用 key_id
type DepositAddress struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64  `gorm:"column:user_id;type:bigint;not null;uniqueIndex:uk_user_chain" json:"user_id"`
	ChainCode string `gorm:"column:chain_code;type:varchar(20);not null;uniqueIndex:uk_user_chain" json:"chain_code"`
	Address   string `gorm:"column:address;type:varchar(64);index;not null" json:"address"`
	KeyID     string `gorm:"column:key_id;type:varchar(64);not null" json:"key_id"`
	CreatedAt int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (DepositAddress) TableName() string {
	return "custody_deposit_addresses"
}

// ScanCursor 扫块游标
// 每条链一行，记录最后一个已扫描完成的区块
type ScanCursor struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainCode   string `gorm:"column:chain_code;type:varchar(20);uniqueIndex;not null" json:"chain_code"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	UpdatedAt   int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ScanCursor) TableName() string {
	return "custody_scan_cursors"
}
