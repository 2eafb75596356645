package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/ledger"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
)

func setupServiceDB(t *testing.T) (*repository.Repository, sqlmock.Sqlmock, func()) {
	db, dbMock, err := sqlmock.New()
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

	return repository.NewRepository(gormDB), dbMock, cleanup
}

type confirmFixture struct {
	svc         *ConfirmService
	adapter     *mockAdapter
	catalogRepo *mockCatalogRepo
	pendingRepo *mockPendingRepo
	walletRepo  *mockWalletRepo
	publisher   *mockPublisher
	dbMock      sqlmock.Sqlmock
	cleanup     func()
}

func setupConfirm(t *testing.T) *confirmFixture {
	adapter := &mockAdapter{code: "ETH"}
	registry := chain.NewRegistry()
	registry.Register(adapter)

	catalogRepo := new(mockCatalogRepo)
	pendingRepo := new(mockPendingRepo)
	walletRepo := new(mockWalletRepo)
	publisher := new(mockPublisher)

	base, dbMock, cleanup := setupServiceDB(t)
	book := ledger.NewLedger(walletRepo, base)

	svc := NewConfirmService(registry, catalogRepo, pendingRepo, book, base, publisher, nil, &ConfirmServiceConfig{})
	return &confirmFixture{
		svc:         svc,
		adapter:     adapter,
		catalogRepo: catalogRepo,
		pendingRepo: pendingRepo,
		walletRepo:  walletRepo,
		publisher:   publisher,
		dbMock:      dbMock,
		cleanup:     cleanup,
	}
}

func testPendingDeposit() *model.PendingTransaction {
	return &model.PendingTransaction{
		TxHash:      "0xdeposit",
		Direction:   model.TxDirectionDeposit,
		ChainCode:   "ETH",
		ToAddress:   "0xcustody",
		TokenCode:   "USDT",
		Decimals:    6,
		Amount:      decimal.NewFromInt(5000000),
		BlockNumber: 900,
		UserID:      1001,
		Status:      model.PendingTxStatusPending,
	}
}

// TestConfirmChain_CreditsDeposit 测试深度达标的充值入账
func TestConfirmChain_CreditsDeposit(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(1000), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").
		Return(&chain.TxReceipt{TxHash: "0xdeposit", Success: true, BlockNumber: 900}, nil)
	f.catalogRepo.On("GetToken", ctx, "ETH", "USDT").
		Return(&model.Token{ID: 7, TokenCode: "USDT", ChainCode: "ETH", ContractAddress: "0xusdt", Decimals: 6, Active: true}, nil)

	f.dbMock.ExpectBegin()
	f.pendingRepo.On("SettleOrder", mock.Anything, "0xdeposit", int64(900)).Return(true, nil)
	f.walletRepo.On("AddBalance", mock.Anything, int64(1001), int64(7), decimal.NewFromInt(5000000)).
		Return(true, nil)
	f.walletRepo.On("Get", mock.Anything, int64(1001), int64(7)).
		Return(&model.WalletBalance{UserID: 1001, TokenID: 7, Balance: decimal.NewFromInt(5000000)}, nil)
	f.walletRepo.On("AppendLog", mock.Anything, mock.MatchedBy(func(log *model.WalletLog) bool {
		return log.LogType == model.WalletLogTypeDeposit &&
			log.Amount.Equal(decimal.NewFromInt(5000000)) &&
			log.BeforeBalance.IsZero() &&
			log.AfterBalance.Equal(decimal.NewFromInt(5000000)) &&
			log.OrderID == "0xdeposit"
	})).Return(nil)
	f.pendingRepo.On("UpdateStatus", mock.Anything, "0xdeposit", model.TxDirectionDeposit, model.PendingTxStatusConfirmed).
		Return(nil)
	f.dbMock.ExpectCommit()

	f.publisher.On("PublishDepositCredited", ctx, mock.MatchedBy(func(e *model.DepositCreditedEvent) bool {
		return e.TxHash == "0xdeposit" && e.UserID == 1001 && e.Amount.Equal(decimal.NewFromInt(5000000))
	})).Return(nil)

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.pendingRepo.AssertExpectations(t)
	f.walletRepo.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

// TestConfirmChain_WaitsForDepth 测试确认深度不足时不入账
func TestConfirmChain_WaitsForDepth(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(905), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").
		Return(&chain.TxReceipt{TxHash: "0xdeposit", Success: true, BlockNumber: 900}, nil)

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.pendingRepo.AssertNotCalled(t, "SettleOrder", mock.Anything, mock.Anything, mock.Anything)
	f.walletRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestConfirmChain_TxNotFoundKeepsWaiting 测试回执未找到时保持等待
func TestConfirmChain_TxNotFoundKeepsWaiting(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(1000), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").Return(nil, chain.ErrTxNotFound)

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.pendingRepo.AssertNotCalled(t, "SettleOrder", mock.Anything, mock.Anything, mock.Anything)
	f.pendingRepo.AssertNotCalled(t, "FailOrder", mock.Anything, mock.Anything, mock.Anything)
}

// TestConfirmChain_FailsRevertedDeposit 测试回执失败的充值置终态不入账
func TestConfirmChain_FailsRevertedDeposit(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(1000), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").
		Return(&chain.TxReceipt{TxHash: "0xdeposit", Success: false, BlockNumber: 900}, nil)

	f.dbMock.ExpectBegin()
	f.pendingRepo.On("FailOrder", mock.Anything, "0xdeposit", "transaction reverted on chain").
		Return(true, nil)
	f.pendingRepo.On("UpdateStatus", mock.Anything, "0xdeposit", model.TxDirectionDeposit, model.PendingTxStatusFailed).
		Return(nil)
	f.dbMock.ExpectCommit()

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.pendingRepo.AssertExpectations(t)
	f.walletRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

// TestConfirmChain_WithholdsInactiveToken 测试代币停用时扣住不入账
func TestConfirmChain_WithholdsInactiveToken(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(1000), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").
		Return(&chain.TxReceipt{TxHash: "0xdeposit", Success: true, BlockNumber: 900}, nil)
	f.catalogRepo.On("GetToken", ctx, "ETH", "USDT").
		Return(&model.Token{ID: 7, TokenCode: "USDT", Active: false}, nil)

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.pendingRepo.AssertNotCalled(t, "SettleOrder", mock.Anything, mock.Anything, mock.Anything)
	f.walletRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestConfirmChain_AlreadySettledSkipsCredit 测试订单已核销时不重复入账
func TestConfirmChain_AlreadySettledSkipsCredit(t *testing.T) {
	f := setupConfirm(t)
	defer f.cleanup()
	ctx := context.Background()
	pending := testPendingDeposit()

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 12}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(1000), nil)
	f.pendingRepo.On("ListPending", ctx, "ETH", model.TxDirectionDeposit, 100).
		Return([]*model.PendingTransaction{pending}, nil)
	f.adapter.On("TransactionReceipt", ctx, "0xdeposit").
		Return(&chain.TxReceipt{TxHash: "0xdeposit", Success: true, BlockNumber: 900}, nil)
	f.catalogRepo.On("GetToken", ctx, "ETH", "USDT").
		Return(&model.Token{ID: 7, TokenCode: "USDT", Decimals: 6, Active: true}, nil)

	f.dbMock.ExpectBegin()
	f.pendingRepo.On("SettleOrder", mock.Anything, "0xdeposit", int64(900)).Return(false, nil)
	f.pendingRepo.On("UpdateStatus", mock.Anything, "0xdeposit", model.TxDirectionDeposit, model.PendingTxStatusConfirmed).
		Return(nil)
	f.dbMock.ExpectCommit()

	err := f.svc.ConfirmChain(ctx, "ETH")

	assert.NoError(t, err)
	f.walletRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "PublishDepositCredited", mock.Anything, mock.Anything)
	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}
