package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/model"
)

// JobExecutionRepository 任务执行记录仓储接口
type JobExecutionRepository interface {
	Create(ctx context.Context, exec *model.JobExecution) error
	Update(ctx context.Context, exec *model.JobExecution) error
	GetLatestByJobName(ctx context.Context, jobName string) (*model.JobExecution, error)
	// DeleteFinishedBefore 清理历史执行记录，返回删除行数
	DeleteFinishedBefore(ctx context.Context, cutoff int64) (int64, error)
}

// jobExecutionRepository 任务执行记录仓储实现
type jobExecutionRepository struct {
	*Repository
}

// NewJobExecutionRepository 创建任务执行记录仓储
func NewJobExecutionRepository(db *gorm.DB) JobExecutionRepository {
	return &jobExecutionRepository{Repository: NewRepository(db)}
}

func (r *jobExecutionRepository) Create(ctx context.Context, exec *model.JobExecution) error {
	return r.DB(ctx).Create(exec).Error
}

func (r *jobExecutionRepository) Update(ctx context.Context, exec *model.JobExecution) error {
	return r.DB(ctx).Save(exec).Error
}

func (r *jobExecutionRepository) GetLatestByJobName(ctx context.Context, jobName string) (*model.JobExecution, error) {
	var exec model.JobExecution
	err := r.DB(ctx).
		Where("job_name = ?", jobName).
		Order("id DESC").
		First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *jobExecutionRepository) DeleteFinishedBefore(ctx context.Context, cutoff int64) (int64, error) {
	result := r.DB(ctx).
		Where("started_at < ? AND status <> ?", cutoff, model.JobStatusRunning).
		Delete(&model.JobExecution{})
	return result.RowsAffected, result.Error
}
