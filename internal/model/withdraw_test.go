package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWithdrawStatus_String(t *testing.T) {
	tests := []struct {
		status   WithdrawStatus
		expected string
	}{
		{WithdrawStatusPending, "PENDING"},
		{WithdrawStatusApproved, "APPROVED"},
		{WithdrawStatusProcessing, "PROCESSING"},
		{WithdrawStatusConfirmed, "CONFIRMED"},
		{WithdrawStatusSettled, "SETTLED"},
		{WithdrawStatusFailed, "FAILED"},
		{WithdrawStatusCancelled, "CANCELLED"},
		{WithdrawStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestWithdrawStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   WithdrawStatus
		terminal bool
	}{
		{WithdrawStatusPending, false},
		{WithdrawStatusApproved, false},
		{WithdrawStatusProcessing, false},
		{WithdrawStatusConfirmed, false},
		{WithdrawStatusSettled, true},
		{WithdrawStatusFailed, true},
		{WithdrawStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestWithdrawStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    WithdrawStatus
		to      WithdrawStatus
		allowed bool
	}{
		{"pending to approved", WithdrawStatusPending, WithdrawStatusApproved, true},
		{"pending to cancelled", WithdrawStatusPending, WithdrawStatusCancelled, true},
		{"pending to failed", WithdrawStatusPending, WithdrawStatusFailed, true},
		{"pending to processing", WithdrawStatusPending, WithdrawStatusProcessing, false},
		{"approved to processing", WithdrawStatusApproved, WithdrawStatusProcessing, true},
		{"approved to failed", WithdrawStatusApproved, WithdrawStatusFailed, false},
		{"approved to cancelled", WithdrawStatusApproved, WithdrawStatusCancelled, false},
		{"processing to confirmed", WithdrawStatusProcessing, WithdrawStatusConfirmed, true},
		{"processing to failed", WithdrawStatusProcessing, WithdrawStatusFailed, true},
		{"processing to settled", WithdrawStatusProcessing, WithdrawStatusSettled, false},
		{"confirmed to settled", WithdrawStatusConfirmed, WithdrawStatusSettled, true},
		{"confirmed to failed", WithdrawStatusConfirmed, WithdrawStatusFailed, false},
		{"settled is terminal", WithdrawStatusSettled, WithdrawStatusPending, false},
		{"failed is terminal", WithdrawStatusFailed, WithdrawStatusPending, false},
		{"cancelled is terminal", WithdrawStatusCancelled, WithdrawStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestWithdrawOrder_FrozenUnits(t *testing.T) {
	order := &WithdrawOrder{
		Amount:   decimal.RequireFromString("1.5"),
		Decimals: 6,
	}
	assert.True(t, order.FrozenUnits().Equal(decimal.NewFromInt(1500000)))
}

func TestWithdrawOrder_TableName(t *testing.T) {
	assert.Equal(t, "custody_withdraw_orders", WithdrawOrder{}.TableName())
}
