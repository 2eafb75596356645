package jobs

import (
	"context"

	"github.com/aether-exchange/aether-custody/internal/scheduler"
)

// CollectionSweeper 归集巡检入口
type CollectionSweeper interface {
	SweepPending(ctx context.Context, chainCode string) error
}

// CollectionSweepJob 单链归集巡检任务
// 收敛等待超时或进程重启遗留的 PENDING 归集记录
type CollectionSweepJob struct {
	scheduler.BaseJob
	chainCode string
	sweeper   CollectionSweeper
}

// NewCollectionSweepJob 创建归集巡检任务
func NewCollectionSweepJob(chainCode string, sweeper CollectionSweeper) *CollectionSweepJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameCollectionSweep]
	return &CollectionSweepJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.ChainJobName(scheduler.JobNameCollectionSweep, chainCode), cfg.Timeout, cfg.LockTTL),
		chainCode: chainCode,
		sweeper:   sweeper,
	}
}

// Execute 执行一轮归集巡检
func (j *CollectionSweepJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.sweeper.SweepPending(ctx, j.chainCode); err != nil {
		return &scheduler.JobResult{ErrorCount: 1}, err
	}
	return &scheduler.JobResult{}, nil
}
