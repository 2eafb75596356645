// Package jobs 托管钱包定时任务
// 每个任务是对应服务单链轮询入口的薄封装，按 (链, 阶段) 注册独立实例，
// 互斥与超时由调度器统一处理
package jobs

import (
	"context"

	"github.com/aether-exchange/aether-custody/internal/scheduler"
)

// DepositScanner 扫块入口
type DepositScanner interface {
	ScanChain(ctx context.Context, chainCode string) error
}

// DepositScanJob 单链扫块任务
type DepositScanJob struct {
	scheduler.BaseJob
	chainCode string
	scanner   DepositScanner
}

// NewDepositScanJob 创建扫块任务
func NewDepositScanJob(chainCode string, scanner DepositScanner) *DepositScanJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameDepositScan]
	return &DepositScanJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.ChainJobName(scheduler.JobNameDepositScan, chainCode), cfg.Timeout, cfg.LockTTL),
		chainCode: chainCode,
		scanner:   scanner,
	}
}

// Execute 执行一轮扫块
func (j *DepositScanJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.scanner.ScanChain(ctx, j.chainCode); err != nil {
		return &scheduler.JobResult{ErrorCount: 1}, err
	}
	return &scheduler.JobResult{}, nil
}
