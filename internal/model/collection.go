package model

import "github.com/shopspring/decimal"

// CollectionTxStatus 归集交易状态
type CollectionTxStatus int8

const (
	CollectionTxStatusPending CollectionTxStatus = 0 // 已广播待确认
	CollectionTxStatusSuccess CollectionTxStatus = 1 // 成功
	CollectionTxStatusFailed  CollectionTxStatus = 2 // 失败
)

func (s CollectionTxStatus) String() string {
	switch s {
	case CollectionTxStatusPending:
		return "PENDING"
	case CollectionTxStatusSuccess:
		return "SUCCESS"
	case CollectionTxStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CollectionTxKind 归集交易类型
type CollectionTxKind int8

const (
	CollectionTxKindNative  CollectionTxKind = 0 // 原生资产归集
	CollectionTxKindToken   CollectionTxKind = 1 // 代币归集
	CollectionTxKindFunding CollectionTxKind = 2 // 手续费垫付
)

func (k CollectionTxKind) String() string {
	switch k {
	case CollectionTxKindNative:
		return "NATIVE"
	case CollectionTxKindToken:
		return "TOKEN"
	case CollectionTxKindFunding:
		return "FUNDING"
	default:
		return "UNKNOWN"
	}
}

// CollectionTransaction 归集交易记录
// 广播前先落库，终态由确认轮询按 tx_hash 写回
type CollectionTransaction struct {
	ID            int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectID     string             `gorm:"column:collect_id;type:varchar(64);uniqueIndex;not null" json:"collect_id"`
	ChainCode     string             `gorm:"column:chain_code;type:varchar(20);index;not null" json:"chain_code"`
	TxHash        string             `gorm:"column:tx_hash;type:varchar(66);index" json:"tx_hash"`
	FromAddress   string             `gorm:"column:from_address;type:varchar(64);not null" json:"from_address"`
	ToAddress     string             `gorm:"column:to_address;type:varchar(64);not null" json:"to_address"`
	TokenCode     string             `gorm:"column:token_code;type:varchar(20);not null" json:"token_code"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	Fee           decimal.Decimal    `gorm:"column:fee;type:decimal(65,0);not null;default:0" json:"fee"`
	Kind          CollectionTxKind   `gorm:"column:kind;type:smallint;not null" json:"kind"`
	Status        CollectionTxStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	DepositTxHash string             `gorm:"column:deposit_tx_hash;type:varchar(66);index" json:"deposit_tx_hash"`
	FailureReason string             `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	CreatedAt     int64              `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64              `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (CollectionTransaction) TableName() string {
	return "custody_collection_transactions"
}
