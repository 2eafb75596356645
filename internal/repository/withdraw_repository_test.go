package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aether-exchange/aether-custody/internal/model"
)

func TestWithdrawRepository_Create_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "custody_withdraw_orders"`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(ctx, &model.WithdrawOrder{
		OrderNo:   "W20260829000001",
		UserID:    1001,
		ChainCode: "ETH",
		TokenCode: "USDT",
		Amount:    decimal.NewFromFloat(1.5),
		ToAddress: "0xrecipient",
	})

	assert.ErrorIs(t, err, ErrDuplicateWithdraw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawRepository_TransitionStatus_Applied(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "custody_withdraw_orders" SET .+ WHERE order_no = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.TransitionStatus(ctx, "W1", model.WithdrawStatusPending, model.WithdrawStatusApproved, nil)

	assert.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawRepository_TransitionStatus_StaleState(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawRepository(db)
	ctx := context.Background()

	// 当前状态已不是 from，条件迁移零行生效
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "custody_withdraw_orders"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := repo.TransitionStatus(ctx, "W1", model.WithdrawStatusPending, model.WithdrawStatusCancelled, nil)

	assert.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestWithdrawRepository_TransitionStatus_InvalidEdge 非法状态机边不触发任何 SQL
func TestWithdrawRepository_TransitionStatus_InvalidEdge(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawRepository(db)
	ctx := context.Background()

	invalid := []struct {
		from model.WithdrawStatus
		to   model.WithdrawStatus
	}{
		{model.WithdrawStatusApproved, model.WithdrawStatusFailed},
		{model.WithdrawStatusConfirmed, model.WithdrawStatusFailed},
		{model.WithdrawStatusSettled, model.WithdrawStatusPending},
		{model.WithdrawStatusProcessing, model.WithdrawStatusCancelled},
	}
	for _, tc := range invalid {
		applied, err := repo.TransitionStatus(ctx, "W1", tc.from, tc.to, nil)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition, "%s -> %s", tc.from, tc.to)
		assert.False(t, applied)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawRepository_HasUnresolved(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawRepository(db)
	ctx := context.Background()

	// 未完结状态集合由状态机终态定义推导
	mock.ExpectQuery(`SELECT count\(\*\) FROM "custody_withdraw_orders" WHERE user_id = \$1 AND status IN \(\$2,\$3,\$4,\$5\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	unresolved, err := repo.HasUnresolved(ctx, 1001)

	assert.NoError(t, err)
	assert.True(t, unresolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUnresolvedWithdrawStatuses 未完结状态集合与终态定义一致
func TestUnresolvedWithdrawStatuses(t *testing.T) {
	statuses := model.UnresolvedWithdrawStatuses()

	assert.Equal(t, []model.WithdrawStatus{
		model.WithdrawStatusPending,
		model.WithdrawStatusApproved,
		model.WithdrawStatusProcessing,
		model.WithdrawStatusConfirmed,
	}, statuses)
	for _, s := range statuses {
		assert.False(t, s.IsTerminal())
	}
}
