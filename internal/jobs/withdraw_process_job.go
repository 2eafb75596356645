package jobs

import (
	"context"

	"github.com/aether-exchange/aether-custody/internal/scheduler"
)

// WithdrawProcessor 提现广播入口
type WithdrawProcessor interface {
	ProcessChain(ctx context.Context, chainCode string) error
}

// WithdrawProcessJob 单链提现广播任务
type WithdrawProcessJob struct {
	scheduler.BaseJob
	chainCode string
	processor WithdrawProcessor
}

// NewWithdrawProcessJob 创建提现广播任务
func NewWithdrawProcessJob(chainCode string, processor WithdrawProcessor) *WithdrawProcessJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameWithdrawProcess]
	return &WithdrawProcessJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.ChainJobName(scheduler.JobNameWithdrawProcess, chainCode), cfg.Timeout, cfg.LockTTL),
		chainCode: chainCode,
		processor: processor,
	}
}

// Execute 执行一轮提现广播
func (j *WithdrawProcessJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.processor.ProcessChain(ctx, j.chainCode); err != nil {
		return &scheduler.JobResult{ErrorCount: 1}, err
	}
	return &scheduler.JobResult{}, nil
}
