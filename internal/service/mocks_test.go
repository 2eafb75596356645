package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/internal/repository"
)

// mockCatalogRepo 目录仓储 Mock
type mockCatalogRepo struct {
	mock.Mock
}

func (m *mockCatalogRepo) GetChain(ctx context.Context, chainCode string) (*model.ChainConfig, error) {
	args := m.Called(ctx, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChainConfig), args.Error(1)
}

func (m *mockCatalogRepo) GetToken(ctx context.Context, chainCode, tokenCode string) (*model.Token, error) {
	args := m.Called(ctx, chainCode, tokenCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Token), args.Error(1)
}

func (m *mockCatalogRepo) GetTokenByContract(ctx context.Context, chainCode, contract string) (*model.Token, error) {
	args := m.Called(ctx, chainCode, contract)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Token), args.Error(1)
}

func (m *mockCatalogRepo) GetNativeToken(ctx context.Context, chainCode string) (*model.Token, error) {
	args := m.Called(ctx, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Token), args.Error(1)
}

func (m *mockCatalogRepo) ListActiveTokens(ctx context.Context, chainCode string) ([]*model.Token, error) {
	args := m.Called(ctx, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Token), args.Error(1)
}

func (m *mockCatalogRepo) CreateAddress(ctx context.Context, addr *model.DepositAddress) error {
	args := m.Called(ctx, addr)
	return args.Error(0)
}

func (m *mockCatalogRepo) GetAddress(ctx context.Context, userID int64, chainCode string) (*model.DepositAddress, error) {
	args := m.Called(ctx, userID, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DepositAddress), args.Error(1)
}

func (m *mockCatalogRepo) GetAddressByAddress(ctx context.Context, chainCode, address string) (*model.DepositAddress, error) {
	args := m.Called(ctx, chainCode, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DepositAddress), args.Error(1)
}

func (m *mockCatalogRepo) ListAddresses(ctx context.Context, chainCode string) ([]*model.DepositAddress, error) {
	args := m.Called(ctx, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DepositAddress), args.Error(1)
}

// mockCursorRepo 扫块游标仓储 Mock
type mockCursorRepo struct {
	mock.Mock
}

func (m *mockCursorRepo) Get(ctx context.Context, chainCode string) (*model.ScanCursor, error) {
	args := m.Called(ctx, chainCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanCursor), args.Error(1)
}

func (m *mockCursorRepo) Advance(ctx context.Context, chainCode string, blockNumber int64) error {
	args := m.Called(ctx, chainCode, blockNumber)
	return args.Error(0)
}

// mockPendingRepo 待确认交易仓储 Mock
type mockPendingRepo struct {
	mock.Mock
}

func (m *mockPendingRepo) CreateDepositIfAbsent(ctx context.Context, tx *model.PendingTransaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

func (m *mockPendingRepo) ExistsByHash(ctx context.Context, txHash string, direction model.TxDirection) (bool, error) {
	args := m.Called(ctx, txHash, direction)
	return args.Bool(0), args.Error(1)
}

func (m *mockPendingRepo) GetByHash(ctx context.Context, txHash string, direction model.TxDirection) (*model.PendingTransaction, error) {
	args := m.Called(ctx, txHash, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingTransaction), args.Error(1)
}

func (m *mockPendingRepo) ListPending(ctx context.Context, chainCode string, direction model.TxDirection, limit int) ([]*model.PendingTransaction, error) {
	args := m.Called(ctx, chainCode, direction, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PendingTransaction), args.Error(1)
}

func (m *mockPendingRepo) UpdateStatus(ctx context.Context, txHash string, direction model.TxDirection, status model.PendingTxStatus) error {
	args := m.Called(ctx, txHash, direction, status)
	return args.Error(0)
}

func (m *mockPendingRepo) GetOrder(ctx context.Context, txHash string) (*model.DepositOrder, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DepositOrder), args.Error(1)
}

func (m *mockPendingRepo) ListOrdersByStatus(ctx context.Context, chainCode string, status model.DepositOrderStatus, limit int) ([]*model.DepositOrder, error) {
	args := m.Called(ctx, chainCode, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DepositOrder), args.Error(1)
}

func (m *mockPendingRepo) SettleOrder(ctx context.Context, txHash string, confirmBlock int64) (bool, error) {
	args := m.Called(ctx, txHash, confirmBlock)
	return args.Bool(0), args.Error(1)
}

func (m *mockPendingRepo) FailOrder(ctx context.Context, txHash string, reason string) (bool, error) {
	args := m.Called(ctx, txHash, reason)
	return args.Bool(0), args.Error(1)
}

// mockCollectionRepo 归集交易仓储 Mock
type mockCollectionRepo struct {
	mock.Mock
}

func (m *mockCollectionRepo) Create(ctx context.Context, tx *model.CollectionTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockCollectionRepo) GetByCollectID(ctx context.Context, collectID string) (*model.CollectionTransaction, error) {
	args := m.Called(ctx, collectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CollectionTransaction), args.Error(1)
}

func (m *mockCollectionRepo) SetTxHash(ctx context.Context, collectID, txHash string) error {
	args := m.Called(ctx, collectID, txHash)
	return args.Error(0)
}

func (m *mockCollectionRepo) UpdateStatusByHash(ctx context.Context, txHash string, status model.CollectionTxStatus, reason string) error {
	args := m.Called(ctx, txHash, status, reason)
	return args.Error(0)
}

func (m *mockCollectionRepo) UpdateStatusByCollectID(ctx context.Context, collectID string, status model.CollectionTxStatus, reason string) error {
	args := m.Called(ctx, collectID, status, reason)
	return args.Error(0)
}

func (m *mockCollectionRepo) ListPending(ctx context.Context, chainCode string, limit int) ([]*model.CollectionTransaction, error) {
	args := m.Called(ctx, chainCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CollectionTransaction), args.Error(1)
}

func (m *mockCollectionRepo) ExistsForDeposit(ctx context.Context, depositTxHash string) (bool, error) {
	args := m.Called(ctx, depositTxHash)
	return args.Bool(0), args.Error(1)
}

// mockWithdrawRepo 提现订单仓储 Mock
type mockWithdrawRepo struct {
	mock.Mock
}

func (m *mockWithdrawRepo) Create(ctx context.Context, order *model.WithdrawOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockWithdrawRepo) GetByOrderNo(ctx context.Context, orderNo string) (*model.WithdrawOrder, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WithdrawOrder), args.Error(1)
}

func (m *mockWithdrawRepo) GetByTxHash(ctx context.Context, txHash string) (*model.WithdrawOrder, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WithdrawOrder), args.Error(1)
}

func (m *mockWithdrawRepo) TransitionStatus(ctx context.Context, orderNo string, from, to model.WithdrawStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, orderNo, from, to, updates)
	return args.Bool(0), args.Error(1)
}

func (m *mockWithdrawRepo) ListByStatus(ctx context.Context, chainCode string, status model.WithdrawStatus, limit int) ([]*model.WithdrawOrder, error) {
	args := m.Called(ctx, chainCode, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WithdrawOrder), args.Error(1)
}

func (m *mockWithdrawRepo) HasUnresolved(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// mockWalletRepo 余额仓储 Mock
type mockWalletRepo struct {
	mock.Mock
}

func (m *mockWalletRepo) Get(ctx context.Context, userID, tokenID int64) (*model.WalletBalance, error) {
	args := m.Called(ctx, userID, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WalletBalance), args.Error(1)
}

func (m *mockWalletRepo) CreateRow(ctx context.Context, balance *model.WalletBalance) (bool, error) {
	args := m.Called(ctx, balance)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) AddBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, tokenID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) SubBalance(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, tokenID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) Freeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, tokenID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) Unfreeze(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, tokenID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) SubFrozen(ctx context.Context, userID, tokenID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, tokenID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *mockWalletRepo) AppendLog(ctx context.Context, log *model.WalletLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *mockWalletRepo) ListLogs(ctx context.Context, userID, tokenID int64, page *repository.Pagination) ([]*model.WalletLog, error) {
	args := m.Called(ctx, userID, tokenID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WalletLog), args.Error(1)
}

// mockKeyStore 私钥存取 Mock
type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) Store(ctx context.Context, chainCode, address, privateKeyHex string) (string, error) {
	args := m.Called(ctx, chainCode, address, privateKeyHex)
	return args.String(0), args.Error(1)
}

func (m *mockKeyStore) Get(ctx context.Context, keyID string) (string, error) {
	args := m.Called(ctx, keyID)
	return args.String(0), args.Error(1)
}

// mockAdapter 链适配器 Mock
type mockAdapter struct {
	mock.Mock
	code string
}

func (m *mockAdapter) ChainCode() string {
	return m.code
}

func (m *mockAdapter) LatestBlock(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAdapter) BlockTransactions(ctx context.Context, height int64) ([]*chain.NormalizedTx, error) {
	args := m.Called(ctx, height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*chain.NormalizedTx), args.Error(1)
}

func (m *mockAdapter) TransactionReceipt(ctx context.Context, txHash string) (*chain.TxReceipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.TxReceipt), args.Error(1)
}

func (m *mockAdapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockAdapter) TokenBalance(ctx context.Context, contractAddress, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, contractAddress, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockAdapter) EstimateFee(ctx context.Context, req *chain.TransferRequest) (decimal.Decimal, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockAdapter) Transfer(ctx context.Context, req *chain.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) ValidateAddress(address string) bool {
	args := m.Called(address)
	return args.Bool(0)
}

func (m *mockAdapter) Close() {}

// mockPublisher 事件发布器 Mock
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishDepositCredited(ctx context.Context, event *model.DepositCreditedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) PublishWithdrawStatus(ctx context.Context, event *model.WithdrawStatusEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
