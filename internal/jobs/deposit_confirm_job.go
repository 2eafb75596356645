package jobs

import (
	"context"

	"github.com/aether-exchange/aether-custody/internal/scheduler"
)

// DepositConfirmer 充值确认入口
type DepositConfirmer interface {
	ConfirmChain(ctx context.Context, chainCode string) error
}

// DepositConfirmJob 单链充值确认任务
type DepositConfirmJob struct {
	scheduler.BaseJob
	chainCode string
	confirmer DepositConfirmer
}

// NewDepositConfirmJob 创建充值确认任务
func NewDepositConfirmJob(chainCode string, confirmer DepositConfirmer) *DepositConfirmJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameDepositConfirm]
	return &DepositConfirmJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.ChainJobName(scheduler.JobNameDepositConfirm, chainCode), cfg.Timeout, cfg.LockTTL),
		chainCode: chainCode,
		confirmer: confirmer,
	}
}

// Execute 执行一轮充值确认
func (j *DepositConfirmJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.confirmer.ConfirmChain(ctx, j.chainCode); err != nil {
		return &scheduler.JobResult{ErrorCount: 1}, err
	}
	return &scheduler.JobResult{}, nil
}
