package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/model"
)

type collectorFixture struct {
	svc            *CollectorService
	adapter        *mockAdapter
	catalogRepo    *mockCatalogRepo
	collectionRepo *mockCollectionRepo
	keyStore       *mockKeyStore
}

func setupCollector(t *testing.T) *collectorFixture {
	adapter := &mockAdapter{code: "ETH"}
	registry := chain.NewRegistry()
	registry.Register(adapter)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sender := chain.NewSender(registry, rdb, &chain.SenderConfig{
		LockTTL:     time.Second,
		AcquireWait: 50 * time.Millisecond,
	})

	catalogRepo := new(mockCatalogRepo)
	collectionRepo := new(mockCollectionRepo)
	keyStore := new(mockKeyStore)

	svc := NewCollectorService(registry, sender, catalogRepo, collectionRepo, keyStore, &CollectorServiceConfig{
		Chains: map[string]*CollectorChainConfig{
			"ETH": {
				TreasuryAddress: "0xtreasury",
				FundingAddress:  "0xfunding",
				FundingKeyID:    "funding-key-1",
			},
		},
		PollInterval: 10 * time.Millisecond,
		AwaitTimeout: time.Second,
	})

	return &collectorFixture{
		svc:            svc,
		adapter:        adapter,
		catalogRepo:    catalogRepo,
		collectionRepo: collectionRepo,
		keyStore:       keyStore,
	}
}

func confirmedDeposit() *model.PendingTransaction {
	return &model.PendingTransaction{
		TxHash:      "0xdeposit",
		Direction:   model.TxDirectionDeposit,
		ChainCode:   "ETH",
		ToAddress:   "0xcustody",
		TokenCode:   "ETH",
		Decimals:    18,
		Amount:      decimal.NewFromInt(1000000),
		BlockNumber: 900,
		UserID:      1001,
		Status:      model.PendingTxStatusConfirmed,
	}
}

func (f *collectorFixture) expectCommonLookups(ctx context.Context, token *model.Token) {
	f.collectionRepo.On("ExistsForDeposit", ctx, "0xdeposit").Return(false, nil)
	f.catalogRepo.On("GetAddressByAddress", ctx, "ETH", "0xcustody").
		Return(&model.DepositAddress{UserID: 1001, ChainCode: "ETH", Address: "0xcustody", KeyID: "deposit-key-1"}, nil)
	f.keyStore.On("Get", ctx, "deposit-key-1").Return("cafebabe", nil)
	f.catalogRepo.On("GetToken", ctx, "ETH", token.TokenCode).Return(token, nil)
	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 2}, nil)
}

// TestCollectDeposit_NativeSweep 测试原生币归集：全额减手续费扫入金库
func TestCollectDeposit_NativeSweep(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()

	f.expectCommonLookups(ctx, &model.Token{ID: 1, TokenCode: "ETH", ChainCode: "ETH", Decimals: 18, Active: true})

	f.adapter.On("NativeBalance", ctx, "0xcustody").Return(decimal.NewFromInt(1000000), nil)
	f.adapter.On("EstimateFee", ctx, mock.Anything).Return(decimal.NewFromInt(21000), nil)

	f.collectionRepo.On("Create", ctx, mock.MatchedBy(func(c *model.CollectionTransaction) bool {
		return c.Kind == model.CollectionTxKindNative &&
			c.FromAddress == "0xcustody" &&
			c.ToAddress == "0xtreasury" &&
			c.Amount.Equal(decimal.NewFromInt(979000)) &&
			c.DepositTxHash == "0xdeposit" &&
			c.CollectID != ""
	})).Return(nil)
	f.adapter.On("Transfer", mock.Anything, mock.MatchedBy(func(req *chain.TransferRequest) bool {
		return req.FromAddress == "0xcustody" &&
			req.ToAddress == "0xtreasury" &&
			req.PrivateKeyHex == "cafebabe" &&
			req.Amount.Equal(decimal.NewFromInt(979000))
	})).Return("0xsweep", nil)
	f.collectionRepo.On("SetTxHash", ctx, mock.Anything, "0xsweep").Return(nil)

	f.adapter.On("TransactionReceipt", mock.Anything, "0xsweep").
		Return(&chain.TxReceipt{TxHash: "0xsweep", Success: true, BlockNumber: 910, Fee: decimal.NewFromInt(21000)}, nil)
	f.adapter.On("LatestBlock", mock.Anything).Return(int64(920), nil)
	f.collectionRepo.On("UpdateStatusByHash", ctx, "0xsweep", model.CollectionTxStatusSuccess, "").Return(nil)

	err := f.svc.CollectDeposit(ctx, pending)

	assert.NoError(t, err)
	f.collectionRepo.AssertExpectations(t)
	f.adapter.AssertExpectations(t)
}

// TestCollectDeposit_SkipsDust 测试余额不足以覆盖手续费时跳过
func TestCollectDeposit_SkipsDust(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()

	f.expectCommonLookups(ctx, &model.Token{ID: 1, TokenCode: "ETH", ChainCode: "ETH", Decimals: 18, Active: true})

	f.adapter.On("NativeBalance", ctx, "0xcustody").Return(decimal.NewFromInt(10000), nil)
	f.adapter.On("EstimateFee", ctx, mock.Anything).Return(decimal.NewFromInt(21000), nil)

	err := f.svc.CollectDeposit(ctx, pending)

	assert.NoError(t, err)
	f.collectionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.adapter.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

// TestCollectDeposit_AlreadyCollected 测试重复归集为 no-op
func TestCollectDeposit_AlreadyCollected(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()

	f.collectionRepo.On("ExistsForDeposit", ctx, "0xdeposit").Return(true, nil)

	err := f.svc.CollectDeposit(ctx, pending)

	assert.NoError(t, err)
	f.catalogRepo.AssertNotCalled(t, "GetAddressByAddress", mock.Anything, mock.Anything, mock.Anything)
	f.collectionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestCollectDeposit_UnconfiguredChain 测试未配置归集的链报错
func TestCollectDeposit_UnconfiguredChain(t *testing.T) {
	f := setupCollector(t)
	pending := confirmedDeposit()
	pending.ChainCode = "TRON"

	err := f.svc.CollectDeposit(context.Background(), pending)

	assert.ErrorIs(t, err, ErrCollectionNotConfigured)
}

// TestCollectDeposit_TokenSweepWithFunding 测试代币归集前垫付手续费
func TestCollectDeposit_TokenSweepWithFunding(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()
	pending.TokenCode = "USDT"

	f.expectCommonLookups(ctx, &model.Token{
		ID: 7, TokenCode: "USDT", ChainCode: "ETH", ContractAddress: "0xusdt", Decimals: 6, Active: true,
	})

	f.adapter.On("TokenBalance", ctx, "0xusdt", "0xcustody").Return(decimal.NewFromInt(5000000), nil)
	f.adapter.On("EstimateFee", ctx, mock.Anything).Return(decimal.NewFromInt(90000), nil)
	// 充值地址原生币不足以付手续费，缺口 50000
	f.adapter.On("NativeBalance", ctx, "0xcustody").Return(decimal.NewFromInt(40000), nil)
	f.keyStore.On("Get", ctx, "funding-key-1").Return("f00dbeef", nil)

	var fundingCollectID string
	f.collectionRepo.On("Create", ctx, mock.MatchedBy(func(c *model.CollectionTransaction) bool {
		if c.Kind != model.CollectionTxKindFunding {
			return false
		}
		fundingCollectID = c.CollectID
		return c.FromAddress == "0xfunding" &&
			c.ToAddress == "0xcustody" &&
			c.Amount.Equal(decimal.NewFromInt(50000))
	})).Return(nil).Once()
	f.adapter.On("Transfer", mock.Anything, mock.MatchedBy(func(req *chain.TransferRequest) bool {
		return req.FromAddress == "0xfunding" && req.Amount.Equal(decimal.NewFromInt(50000))
	})).Return("0xfund", nil).Once()
	f.collectionRepo.On("SetTxHash", ctx, mock.Anything, "0xfund").Return(nil).Once()
	f.adapter.On("TransactionReceipt", mock.Anything, "0xfund").
		Return(&chain.TxReceipt{TxHash: "0xfund", Success: true, BlockNumber: 910, Fee: decimal.NewFromInt(21000)}, nil)
	f.adapter.On("LatestBlock", mock.Anything).Return(int64(920), nil)
	f.collectionRepo.On("UpdateStatusByHash", ctx, "0xfund", model.CollectionTxStatusSuccess, "").Return(nil).Once()
	f.collectionRepo.On("GetByCollectID", ctx, mock.MatchedBy(func(id string) bool {
		return id == fundingCollectID
	})).Return(&model.CollectionTransaction{
		Kind:   model.CollectionTxKindFunding,
		Status: model.CollectionTxStatusSuccess,
	}, nil)

	// 垫付确认后扫代币
	f.collectionRepo.On("Create", ctx, mock.MatchedBy(func(c *model.CollectionTransaction) bool {
		return c.Kind == model.CollectionTxKindToken &&
			c.TokenCode == "USDT" &&
			c.Amount.Equal(decimal.NewFromInt(5000000))
	})).Return(nil).Once()
	f.adapter.On("Transfer", mock.Anything, mock.MatchedBy(func(req *chain.TransferRequest) bool {
		return req.ContractAddress == "0xusdt" && req.Amount.Equal(decimal.NewFromInt(5000000))
	})).Return("0xsweep", nil).Once()
	f.collectionRepo.On("SetTxHash", ctx, mock.Anything, "0xsweep").Return(nil).Once()
	f.adapter.On("TransactionReceipt", mock.Anything, "0xsweep").
		Return(&chain.TxReceipt{TxHash: "0xsweep", Success: true, BlockNumber: 915, Fee: decimal.NewFromInt(90000)}, nil)
	f.collectionRepo.On("UpdateStatusByHash", ctx, "0xsweep", model.CollectionTxStatusSuccess, "").Return(nil).Once()

	err := f.svc.CollectDeposit(ctx, pending)

	assert.NoError(t, err)
	f.collectionRepo.AssertExpectations(t)
	f.adapter.AssertExpectations(t)
}

// TestCollectDeposit_TokenSweepNoFunding 测试原生币充足时直接扫代币
func TestCollectDeposit_TokenSweepNoFunding(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()
	pending.TokenCode = "USDT"

	f.expectCommonLookups(ctx, &model.Token{
		ID: 7, TokenCode: "USDT", ChainCode: "ETH", ContractAddress: "0xusdt", Decimals: 6, Active: true,
	})

	f.adapter.On("TokenBalance", ctx, "0xusdt", "0xcustody").Return(decimal.NewFromInt(5000000), nil)
	f.adapter.On("EstimateFee", ctx, mock.Anything).Return(decimal.NewFromInt(90000), nil)
	f.adapter.On("NativeBalance", ctx, "0xcustody").Return(decimal.NewFromInt(200000), nil)

	f.collectionRepo.On("Create", ctx, mock.MatchedBy(func(c *model.CollectionTransaction) bool {
		return c.Kind == model.CollectionTxKindToken
	})).Return(nil)
	f.adapter.On("Transfer", mock.Anything, mock.Anything).Return("0xsweep", nil)
	f.collectionRepo.On("SetTxHash", ctx, mock.Anything, "0xsweep").Return(nil)
	f.adapter.On("TransactionReceipt", mock.Anything, "0xsweep").
		Return(&chain.TxReceipt{TxHash: "0xsweep", Success: true, BlockNumber: 910, Fee: decimal.NewFromInt(90000)}, nil)
	f.adapter.On("LatestBlock", mock.Anything).Return(int64(920), nil)
	f.collectionRepo.On("UpdateStatusByHash", ctx, "0xsweep", model.CollectionTxStatusSuccess, "").Return(nil)

	err := f.svc.CollectDeposit(ctx, pending)

	assert.NoError(t, err)
	f.keyStore.AssertNotCalled(t, "Get", mock.Anything, "funding-key-1")
	f.collectionRepo.AssertExpectations(t)
}

// TestCollectDeposit_BroadcastFailureMarksFailed 测试广播失败写回失败状态
func TestCollectDeposit_BroadcastFailureMarksFailed(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()
	pending := confirmedDeposit()

	f.expectCommonLookups(ctx, &model.Token{ID: 1, TokenCode: "ETH", ChainCode: "ETH", Decimals: 18, Active: true})

	f.adapter.On("NativeBalance", ctx, "0xcustody").Return(decimal.NewFromInt(1000000), nil)
	f.adapter.On("EstimateFee", ctx, mock.Anything).Return(decimal.NewFromInt(21000), nil)
	f.collectionRepo.On("Create", ctx, mock.Anything).Return(nil)
	f.adapter.On("Transfer", mock.Anything, mock.Anything).Return("", assert.AnError)
	f.collectionRepo.On("UpdateStatusByCollectID", ctx, mock.Anything,
		model.CollectionTxStatusFailed, assert.AnError.Error()).Return(nil)

	err := f.svc.CollectDeposit(ctx, pending)

	assert.Error(t, err)
	f.collectionRepo.AssertExpectations(t)
	f.collectionRepo.AssertNotCalled(t, "SetTxHash", mock.Anything, mock.Anything, mock.Anything)
}

// TestSweepPending_FinalizesStale 测试巡检收敛遗留记录
func TestSweepPending_FinalizesStale(t *testing.T) {
	f := setupCollector(t)
	ctx := context.Background()

	broadcast := &model.CollectionTransaction{
		CollectID: "c-1",
		ChainCode: "ETH",
		TxHash:    "0xsweep",
		Kind:      model.CollectionTxKindNative,
		Status:    model.CollectionTxStatusPending,
		CreatedAt: time.Now().UnixMilli(),
	}
	neverBroadcast := &model.CollectionTransaction{
		CollectID: "c-2",
		ChainCode: "ETH",
		Kind:      model.CollectionTxKindToken,
		Status:    model.CollectionTxStatusPending,
		CreatedAt: time.Now().Add(-time.Hour).UnixMilli(),
	}

	f.catalogRepo.On("GetChain", ctx, "ETH").
		Return(&model.ChainConfig{ChainCode: "ETH", RequiredConfirmations: 2}, nil)
	f.adapter.On("LatestBlock", ctx).Return(int64(920), nil)
	f.collectionRepo.On("ListPending", ctx, "ETH", 100).
		Return([]*model.CollectionTransaction{broadcast, neverBroadcast}, nil)

	f.adapter.On("TransactionReceipt", ctx, "0xsweep").
		Return(&chain.TxReceipt{TxHash: "0xsweep", Success: true, BlockNumber: 910}, nil)
	f.collectionRepo.On("UpdateStatusByHash", ctx, "0xsweep", model.CollectionTxStatusSuccess, "").Return(nil)

	f.collectionRepo.On("UpdateStatusByCollectID", ctx, "c-2",
		model.CollectionTxStatusFailed, "never broadcast").Return(nil)

	err := f.svc.SweepPending(ctx, "ETH")

	assert.NoError(t, err)
	f.collectionRepo.AssertExpectations(t)
}
