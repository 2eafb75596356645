package app

import (
	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/vault"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		// 链目录
		&model.ChainConfig{},
		&model.Token{},
		&model.DepositAddress{},
		&model.ScanCursor{},

		// 充值链路
		&model.PendingTransaction{},
		&model.DepositOrder{},

		// 账本
		&model.WalletBalance{},
		&model.WalletLog{},

		// 归集与提现
		&model.CollectionTransaction{},
		&model.WithdrawOrder{},

		// 私钥保管与任务执行
		&vault.KeyRecord{},
		&model.JobExecution{},
	)
	if err != nil {
		return err
	}

	// 同一用户同时只允许一笔未完结提现，先查后插的并发竞态由唯一部分索引兜底
	// 状态值与 model.UnresolvedWithdrawStatuses 对应 (PENDING/APPROVED/PROCESSING/CONFIRMED)
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uk_withdraw_unresolved_user
		ON custody_withdraw_orders (user_id)
		WHERE status IN (0, 1, 2, 3)`).Error
}
