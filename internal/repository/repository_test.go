package repository

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

// TestIsDuplicateKeyError 测试唯一约束冲突检测
func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, IsDuplicateKeyError(nil))
	assert.True(t, IsDuplicateKeyError(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicateKeyError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsDuplicateKeyError(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, IsDuplicateKeyError(errors.New("connection refused")))
}

// TestIsRetryableError 测试可重试错误分类
func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrSerializationFailure}))
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrDeadlockDetected}))
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrConnectionFailure}))
	assert.False(t, isRetryableError(&pgconn.PgError{Code: pgErrDiskFull}))
	assert.False(t, isRetryableError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryableError(errors.New("plain error")))
}

// TestPagination 测试分页参数边界
func TestPagination(t *testing.T) {
	p := &Pagination{Page: 0, PageSize: 0}
	assert.Equal(t, 0, p.Offset())
	assert.Equal(t, 20, p.Limit())

	p = &Pagination{Page: 3, PageSize: 50}
	assert.Equal(t, 100, p.Offset())
	assert.Equal(t, 50, p.Limit())

	p = &Pagination{Page: 1, PageSize: 500}
	assert.Equal(t, 100, p.Limit())
}
