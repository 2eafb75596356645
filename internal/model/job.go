package model

// JobStatus 任务执行状态
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// JobExecution 任务执行记录
type JobExecution struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JobName        string    `gorm:"column:job_name;type:varchar(50);index;not null" json:"job_name"`
	Status         JobStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	ProcessedCount int       `gorm:"column:processed_count;type:int;not null;default:0" json:"processed_count"`
	ErrorCount     int       `gorm:"column:error_count;type:int;not null;default:0" json:"error_count"`
	StartedAt      int64     `gorm:"column:started_at;type:bigint;not null" json:"started_at"`
	FinishedAt     *int64    `gorm:"column:finished_at;type:bigint" json:"finished_at,omitempty"`
	DurationMs     *int      `gorm:"column:duration_ms;type:int" json:"duration_ms,omitempty"`
	ErrorMessage   *string   `gorm:"column:error_message;type:varchar(500)" json:"error_message,omitempty"`
}

// TableName 返回表名
func (JobExecution) TableName() string {
	return "custody_job_executions"
}
