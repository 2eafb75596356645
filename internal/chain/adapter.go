package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrChainNotSupported = errors.New("chain not supported")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrNoHealthyRPC      = errors.New("no healthy RPC endpoint available")
)

// TxClass 规整后的交易类别
type TxClass int8

const (
	TxClassNativeTransfer TxClass = 0 // 原生币转账
	TxClassTokenTransfer  TxClass = 1 // 代币转账 (transfer 调用)
	TxClassContractCall   TxClass = 2 // 其他合约调用
	TxClassOther          TxClass = 3 // 无法识别
)

func (c TxClass) String() string {
	switch c {
	case TxClassNativeTransfer:
		return "NATIVE_TRANSFER"
	case TxClassTokenTransfer:
		return "TOKEN_TRANSFER"
	case TxClassContractCall:
		return "CONTRACT_CALL"
	case TxClassOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// NormalizedTx 链无关的交易表示
// Amount 为代币最小单位；ContractAddress 为空表示原生币
type NormalizedTx struct {
	TxHash          string
	From            string
	To              string
	ContractAddress string
	Amount          decimal.Decimal
	Class           TxClass
	BlockNumber     int64
}

// TxReceipt 交易回执
type TxReceipt struct {
	TxHash      string
	Success     bool
	BlockNumber int64
	Fee         decimal.Decimal // 原生币最小单位
}

// TransferRequest 转账请求
// Amount 为最小单位；ContractAddress 为空表示原生币转账
type TransferRequest struct {
	FromAddress     string
	PrivateKeyHex   string
	ToAddress       string
	ContractAddress string
	Amount          decimal.Decimal
}

// Adapter 链适配器
// 每条链一个实例，实例间互不共享状态
type Adapter interface {
	ChainCode() string
	// LatestBlock 最新区块高度
	LatestBlock(ctx context.Context) (int64, error)
	// BlockTransactions 拉取指定高度区块并规整其中的交易
	BlockTransactions(ctx context.Context, height int64) ([]*NormalizedTx, error)
	// TransactionReceipt 查询回执；交易未上链返回 ErrTxNotFound
	TransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error)
	// NativeBalance 原生币余额（最小单位）
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// TokenBalance 代币余额（最小单位）
	TokenBalance(ctx context.Context, contractAddress, address string) (decimal.Decimal, error)
	// EstimateFee 估算转账手续费（原生币最小单位）
	EstimateFee(ctx context.Context, req *TransferRequest) (decimal.Decimal, error)
	// Transfer 构建、签名并广播转账，返回交易哈希
	Transfer(ctx context.Context, req *TransferRequest) (string, error)
	// ValidateAddress 校验地址格式
	ValidateAddress(address string) bool
	Close()
}

// AccountResources 账户资源余量 (资源计费型链)
type AccountResources struct {
	EnergyAvailable    int64
	BandwidthAvailable int64
}

// ResourcePrices 资源单价，原生币最小单位
type ResourcePrices struct {
	EnergyPrice    decimal.Decimal
	BandwidthPrice decimal.Decimal
}

// ResourceMetered 资源计费型链的扩展接口
type ResourceMetered interface {
	AccountResources(ctx context.Context, address string) (*AccountResources, error)
	ResourcePrices(ctx context.Context) (*ResourcePrices, error)
}

// Registry 链适配器注册表
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry 创建适配器注册表
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register 注册链适配器，同链码重复注册以后者为准
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ChainCode()] = a
}

// Get 按链码取适配器
func (r *Registry) Get(chainCode string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[chainCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotSupported, chainCode)
	}
	return a, nil
}

// Codes 返回已注册的链码
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}

// Close 关闭全部适配器
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.adapters {
		a.Close()
	}
}

// WaitOutcome 等待结果
type WaitOutcome int8

const (
	WaitOutcomeConfirmed WaitOutcome = 0 // 回执成功且确认深度达标
	WaitOutcomeFailed    WaitOutcome = 1 // 回执失败
	WaitOutcomeTimedOut  WaitOutcome = 2 // 超时仍未见回执
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitOutcomeConfirmed:
		return "CONFIRMED"
	case WaitOutcomeFailed:
		return "FAILED"
	case WaitOutcomeTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// WaitResult 等待交易终态的结果
type WaitResult struct {
	Outcome WaitOutcome
	Receipt *TxReceipt
}

// WaitForStatus 有界轮询等待交易终态
// 未找到回执视为仍在等待；超时返回 TIMED_OUT 而非错误，由调用方决定后续处理
func WaitForStatus(ctx context.Context, a Adapter, txHash string, confirmations int64, interval, timeout time.Duration) (*WaitResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := a.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ErrTxNotFound):
			// 继续等待
		case err != nil:
			return nil, err
		case !receipt.Success:
			return &WaitResult{Outcome: WaitOutcomeFailed, Receipt: receipt}, nil
		default:
			latest, err := a.LatestBlock(ctx)
			if err != nil {
				return nil, err
			}
			if latest-receipt.BlockNumber+1 >= confirmations {
				return &WaitResult{Outcome: WaitOutcomeConfirmed, Receipt: receipt}, nil
			}
		}

		if time.Now().After(deadline) {
			return &WaitResult{Outcome: WaitOutcomeTimedOut}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
