package scheduler

import (
	"context"
	"time"
)

// Job 任务接口
type Job interface {
	// Name 任务名称
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) (*JobResult, error)
	// Timeout 任务超时时间
	Timeout() time.Duration
	// RequiresLock 是否需要分布式锁
	RequiresLock() bool
	// LockTTL 锁的 TTL (仅在 RequiresLock() 返回 true 时有效)
	LockTTL() time.Duration
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	ErrorCount     int
}

// BaseJob 基础任务实现
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{
		name:    name,
		timeout: timeout,
		lockTTL: lockTTL,
	}
}

// Name 任务名称
func (j BaseJob) Name() string {
	return j.name
}

// Timeout 任务超时时间
func (j BaseJob) Timeout() time.Duration {
	return j.timeout
}

// RequiresLock 是否需要分布式锁
func (j BaseJob) RequiresLock() bool {
	return j.lockTTL > 0
}

// LockTTL 锁的 TTL
func (j BaseJob) LockTTL() time.Duration {
	return j.lockTTL
}

// ChainJobName 按链展开的任务名
// 每条链独立注册任务实例，各自调度、互斥与超时，慢链不拖累其他链
func ChainJobName(phase, chainCode string) string {
	return phase + "-" + chainCode
}

// JobNames 任务阶段名称常量
const (
	JobNameDepositScan       = "deposit-scan"
	JobNameDepositConfirm    = "deposit-confirm"
	JobNameCollectionSweep   = "collection-sweep"
	JobNameWithdrawProcess   = "withdraw-process"
	JobNameWithdrawReconcile = "withdraw-reconcile"
)

// DefaultJobConfigs 默认任务配置
var DefaultJobConfigs = map[string]struct {
	Cron    string
	Timeout time.Duration
	LockTTL time.Duration
}{
	JobNameDepositScan: {
		Cron:    "*/10 * * * * *", // 每10秒
		Timeout: 2 * time.Minute,
		LockTTL: 3 * time.Minute,
	},
	JobNameDepositConfirm: {
		Cron:    "*/15 * * * * *", // 每15秒
		Timeout: 2 * time.Minute,
		LockTTL: 3 * time.Minute,
	},
	JobNameCollectionSweep: {
		Cron:    "0 */5 * * * *", // 每5分钟
		Timeout: 4 * time.Minute,
		LockTTL: 5 * time.Minute,
	},
	JobNameWithdrawProcess: {
		Cron:    "*/10 * * * * *", // 每10秒
		Timeout: 8 * time.Minute,
		LockTTL: 10 * time.Minute,
	},
	JobNameWithdrawReconcile: {
		Cron:    "0 */2 * * * *", // 每2分钟
		Timeout: 2 * time.Minute,
		LockTTL: 3 * time.Minute,
	},
}
