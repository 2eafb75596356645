package jobs

import (
	"context"

	"github.com/aether-exchange/aether-custody/internal/scheduler"
)

// WithdrawReconciler 提现对账入口
type WithdrawReconciler interface {
	ReconcileChain(ctx context.Context, chainCode string) error
}

// WithdrawReconcileJob 单链提现对账任务
// 收敛等待超时或进程重启遗留的 PROCESSING 订单
type WithdrawReconcileJob struct {
	scheduler.BaseJob
	chainCode  string
	reconciler WithdrawReconciler
}

// NewWithdrawReconcileJob 创建提现对账任务
func NewWithdrawReconcileJob(chainCode string, reconciler WithdrawReconciler) *WithdrawReconcileJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameWithdrawReconcile]
	return &WithdrawReconcileJob{
		BaseJob:    scheduler.NewBaseJob(scheduler.ChainJobName(scheduler.JobNameWithdrawReconcile, chainCode), cfg.Timeout, cfg.LockTTL),
		chainCode:  chainCode,
		reconciler: reconciler,
	}
}

// Execute 执行一轮提现对账
func (j *WithdrawReconcileJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.reconciler.ReconcileChain(ctx, j.chainCode); err != nil {
		return &scheduler.JobResult{ErrorCount: 1}, err
	}
	return &scheduler.JobResult{}, nil
}
