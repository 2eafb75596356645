package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// erc20TransferGasLimit 代币转账估算失败时的兜底 gas 上限
const erc20TransferGasLimit = 90000

// rpcEndpoint RPC 端点信息
type rpcEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// EthereumAdapter 账户模型链适配器
// 多端点故障转移；签名私钥由调用方逐笔传入，适配器自身不持有密钥
type EthereumAdapter struct {
	chainCode string
	chainID   int64

	endpoints  []*rpcEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// EthereumConfig 适配器配置
type EthereumConfig struct {
	ChainCode     string
	ChainID       int64
	RPCURLs       []string
	MaxRetries    int
	RetryInterval time.Duration
}

// NewEthereumAdapter 创建账户模型链适配器
func NewEthereumAdapter(cfg *EthereumConfig) (*EthereumAdapter, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("chain %s: at least one RPC URL is required", cfg.ChainCode)
	}

	endpoints := make([]*rpcEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &rpcEndpoint{URL: url, IsHealthy: true}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}

	a := &EthereumAdapter{
		chainCode:       cfg.ChainCode,
		chainID:         cfg.ChainID,
		endpoints:       endpoints,
		maxRetries:      maxRetries,
		retryInterval:   retryInterval,
		healthCheckFreq: 30 * time.Second,
	}

	if err := a.connect(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

// connect 连接到可用的 RPC
func (a *EthereumAdapter) connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.endpoints {
		idx := (a.currentIdx + i) % len(a.endpoints)
		ep := a.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < a.healthCheckFreq {
			continue
		}

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		if _, err = client.ChainID(ctx); err != nil {
			client.Close()
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		if a.client != nil {
			a.client.Close()
		}
		a.client = client
		a.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (a *EthereumAdapter) getClient(ctx context.Context) (*ethclient.Client, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client, nil
}

// withRetry 带端点切换的重试
func (a *EthereumAdapter) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < a.maxRetries; i++ {
		client, err := a.getClient(ctx)
		if err != nil {
			lastErr = err
			time.Sleep(a.retryInterval)
			continue
		}

		err = fn(client)
		if err == nil {
			return nil
		}
		if err == ErrTxNotFound {
			return err
		}

		lastErr = err

		a.mu.Lock()
		if a.currentIdx < len(a.endpoints) {
			a.endpoints[a.currentIdx].IsHealthy = false
			a.endpoints[a.currentIdx].ErrorCount++
		}
		a.mu.Unlock()

		if i < a.maxRetries-1 {
			a.connect(ctx)
			time.Sleep(a.retryInterval)
		}
	}
	return lastErr
}

// ChainCode 返回链码
func (a *EthereumAdapter) ChainCode() string {
	return a.chainCode
}

// LatestBlock 最新区块高度
func (a *EthereumAdapter) LatestBlock(ctx context.Context) (int64, error) {
	var blockNum uint64
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return int64(blockNum), err
}

// BlockTransactions 拉取区块并规整交易
func (a *EthereumAdapter) BlockTransactions(ctx context.Context, height int64) ([]*NormalizedTx, error) {
	var block *types.Block
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		block, err = client.BlockByNumber(ctx, big.NewInt(height))
		return err
	})
	if err != nil {
		return nil, err
	}

	signer := types.LatestSignerForChainID(big.NewInt(a.chainID))
	txs := make([]*NormalizedTx, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		// 合约创建交易没有收款方
		if tx.To() == nil {
			continue
		}

		from, err := types.Sender(signer, tx)
		if err != nil {
			logger.Warn("failed to recover tx sender",
				zap.String("chain", a.chainCode),
				zap.String("tx_hash", tx.Hash().Hex()))
			continue
		}

		txs = append(txs, a.normalize(tx, from, height))
	}
	return txs, nil
}

// normalize 单笔交易归类
func (a *EthereumAdapter) normalize(tx *types.Transaction, from common.Address, height int64) *NormalizedTx {
	n := &NormalizedTx{
		TxHash:      tx.Hash().Hex(),
		From:        from.Hex(),
		BlockNumber: height,
	}

	data := tx.Data()
	if len(data) == 0 {
		n.To = tx.To().Hex()
		n.Amount = decimal.NewFromBigInt(tx.Value(), 0)
		n.Class = TxClassNativeTransfer
		return n
	}

	if transfer, ok := DecodeTransferCalldata(data); ok {
		n.To = common.BytesToAddress(transfer.To).Hex()
		n.ContractAddress = tx.To().Hex()
		n.Amount = transfer.Amount
		n.Class = TxClassTokenTransfer
		return n
	}

	// 选择器匹配但参数畸形的 transfer、approve 及其余合约调用
	n.To = tx.To().Hex()
	n.ContractAddress = tx.To().Hex()
	n.Class = TxClassContractCall
	return n
}

// TransactionReceipt 查询回执
func (a *EthereumAdapter) TransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	var receipt *types.Receipt
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, common.HexToHash(txHash))
		if err == ethereum.NotFound {
			return ErrTxNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(
		new(big.Int).SetUint64(receipt.GasUsed),
		receipt.EffectiveGasPrice,
	)
	return &TxReceipt{
		TxHash:      txHash,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: receipt.BlockNumber.Int64(),
		Fee:         decimal.NewFromBigInt(fee, 0),
	}, nil
}

// NativeBalance 原生币余额
func (a *EthereumAdapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var balance *big.Int
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(balance, 0), nil
}

// TokenBalance 代币余额
func (a *EthereumAdapter) TokenBalance(ctx context.Context, contractAddress, address string) (decimal.Decimal, error) {
	contract := common.HexToAddress(contractAddress)
	data := EncodeBalanceOfCalldata(common.HexToAddress(address).Bytes())

	var result []byte
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, ethereum.CallMsg{
			To:   &contract,
			Data: data,
		}, nil)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(result), 0), nil
}

// EstimateFee 估算手续费：gasPrice * gasLimit
func (a *EthereumAdapter) EstimateFee(ctx context.Context, req *TransferRequest) (decimal.Decimal, error) {
	var gasPrice *big.Int
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	gasLimit := uint64(params.TxGas)
	if req.ContractAddress != "" {
		gasLimit = a.estimateTokenGas(ctx, req)
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return decimal.NewFromBigInt(fee, 0), nil
}

func (a *EthereumAdapter) estimateTokenGas(ctx context.Context, req *TransferRequest) uint64 {
	from := common.HexToAddress(req.FromAddress)
	contract := common.HexToAddress(req.ContractAddress)
	data := EncodeTransferCalldata(common.HexToAddress(req.ToAddress).Bytes(), req.Amount)

	var gas uint64
	err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From: from,
			To:   &contract,
			Data: data,
		})
		return err
	})
	if err != nil || gas == 0 {
		return erc20TransferGasLimit
	}
	return gas
}

// Transfer 构建、签名并广播转账
func (a *EthereumAdapter) Transfer(ctx context.Context, req *TransferRequest) (string, error) {
	privateKey, err := crypto.HexToECDSA(req.PrivateKeyHex)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	var nonce uint64
	if err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, from)
		return err
	}); err != nil {
		return "", err
	}

	var gasPrice *big.Int
	if err := a.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	}); err != nil {
		return "", err
	}

	var tx *types.Transaction
	if req.ContractAddress == "" {
		tx = types.NewTransaction(
			nonce,
			common.HexToAddress(req.ToAddress),
			req.Amount.BigInt(),
			params.TxGas,
			gasPrice,
			nil,
		)
	} else {
		data := EncodeTransferCalldata(common.HexToAddress(req.ToAddress).Bytes(), req.Amount)
		gasLimit := a.estimateTokenGas(ctx, req)
		tx = types.NewTransaction(
			nonce,
			common.HexToAddress(req.ContractAddress),
			big.NewInt(0),
			gasLimit,
			gasPrice,
			data,
		)
	}

	signer := types.NewEIP155Signer(big.NewInt(a.chainID))
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := a.withRetry(ctx, func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, signedTx)
	}); err != nil {
		return "", err
	}

	return signedTx.Hash().Hex(), nil
}

// ValidateAddress 校验地址格式
func (a *EthereumAdapter) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// Close 关闭客户端
func (a *EthereumAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
}
