package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// tronAddressPrefix 主网地址版本字节，base58check 编码后以 T 开头
const tronAddressPrefix = 0x41

// 资源估算常量，单位分别为 energy 与字节
const (
	tronNativeBandwidth = 270    // TransferContract 的典型带宽占用
	tronTokenBandwidth  = 345    // TriggerSmartContract 的典型带宽占用
	tronTokenFeeLimit   = 100_000_000 // TRC20 转账 fee_limit (sun)
)

// 链参数拉取失败时的兜底单价 (sun)
var (
	fallbackEnergyPrice    = decimal.NewFromInt(420)
	fallbackBandwidthPrice = decimal.NewFromInt(1000)
)

// resourcePriceTTL 链参数缓存时长
const resourcePriceTTL = 10 * time.Minute

// TronAdapter 资源计费型链适配器
// 通过全节点 HTTP API 交互；广播前对 raw_data 做 sha256 后以 secp256k1 签名
type TronAdapter struct {
	chainCode string

	endpoints  []*rpcEndpoint
	currentIdx int
	mu         sync.RWMutex

	httpClient    *http.Client
	maxRetries    int
	retryInterval time.Duration

	priceMu         sync.RWMutex
	cachedPrices    *ResourcePrices
	pricesFetchedAt time.Time
}

// TronConfig 适配器配置
type TronConfig struct {
	ChainCode     string
	APIURLs       []string
	MaxRetries    int
	RetryInterval time.Duration
	HTTPTimeout   time.Duration
}

// NewTronAdapter 创建资源计费型链适配器
func NewTronAdapter(cfg *TronConfig) (*TronAdapter, error) {
	if len(cfg.APIURLs) == 0 {
		return nil, fmt.Errorf("chain %s: at least one API URL is required", cfg.ChainCode)
	}

	endpoints := make([]*rpcEndpoint, len(cfg.APIURLs))
	for i, url := range cfg.APIURLs {
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
	httpTimeout := cfg.HTTPTimeout
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}

	return &TronAdapter{
		chainCode:     cfg.ChainCode,
		endpoints:     endpoints,
		httpClient:    &http.Client{Timeout: httpTimeout},
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}, nil
}

// post 对当前端点发起一次 JSON 调用，失败时切换端点重试
func (a *TronAdapter) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < a.maxRetries; i++ {
		a.mu.RLock()
		ep := a.endpoints[a.currentIdx]
		a.mu.RUnlock()

		err := a.doPost(ctx, ep.URL+path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		a.mu.Lock()
		ep.IsHealthy = false
		ep.ErrorCount++
		ep.LastCheck = time.Now()
		a.currentIdx = (a.currentIdx + 1) % len(a.endpoints)
		a.mu.Unlock()

		if i < a.maxRetries-1 {
			time.Sleep(a.retryInterval)
		}
	}
	return lastErr
}

func (a *TronAdapter) doPost(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fullnode returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ChainCode 返回链码
func (a *TronAdapter) ChainCode() string {
	return a.chainCode
}

type tronBlockHeader struct {
	RawData struct {
		Number int64 `json:"number"`
	} `json:"raw_data"`
}

type tronContract struct {
	Type      string `json:"type"`
	Parameter struct {
		Value json.RawMessage `json:"value"`
	} `json:"parameter"`
}

type tronTx struct {
	TxID    string `json:"txID"`
	RawData struct {
		Contract []tronContract `json:"contract"`
	} `json:"raw_data"`
	Ret []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
}

type tronBlock struct {
	BlockHeader  tronBlockHeader `json:"block_header"`
	Transactions []tronTx        `json:"transactions"`
}

// LatestBlock 最新区块高度
func (a *TronAdapter) LatestBlock(ctx context.Context) (int64, error) {
	var block tronBlock
	if err := a.post(ctx, "/wallet/getnowblock", map[string]interface{}{}, &block); err != nil {
		return 0, err
	}
	return block.BlockHeader.RawData.Number, nil
}

// BlockTransactions 拉取区块并规整交易
func (a *TronAdapter) BlockTransactions(ctx context.Context, height int64) ([]*NormalizedTx, error) {
	var block tronBlock
	if err := a.post(ctx, "/wallet/getblockbynum", map[string]interface{}{"num": height}, &block); err != nil {
		return nil, err
	}

	txs := make([]*NormalizedTx, 0, len(block.Transactions))
	for i := range block.Transactions {
		n := a.normalize(&block.Transactions[i], height)
		if n != nil {
			txs = append(txs, n)
		}
	}
	return txs, nil
}

type tronTransferValue struct {
	OwnerAddress string `json:"owner_address"`
	ToAddress    string `json:"to_address"`
	Amount       int64  `json:"amount"`
}

type tronTriggerValue struct {
	OwnerAddress    string `json:"owner_address"`
	ContractAddress string `json:"contract_address"`
	Data            string `json:"data"`
}

// normalize 单笔交易归类
// 地址字段为 41 前缀的 hex，统一转换为 base58check
func (a *TronAdapter) normalize(tx *tronTx, height int64) *NormalizedTx {
	if len(tx.RawData.Contract) == 0 {
		return nil
	}

	contract := tx.RawData.Contract[0]
	n := &NormalizedTx{
		TxHash:      tx.TxID,
		BlockNumber: height,
	}

	switch contract.Type {
	case "TransferContract":
		var v tronTransferValue
		if err := json.Unmarshal(contract.Parameter.Value, &v); err != nil {
			return nil
		}
		n.From = hexToTronAddress(v.OwnerAddress)
		n.To = hexToTronAddress(v.ToAddress)
		n.Amount = decimal.NewFromInt(v.Amount)
		n.Class = TxClassNativeTransfer

	case "TriggerSmartContract":
		var v tronTriggerValue
		if err := json.Unmarshal(contract.Parameter.Value, &v); err != nil {
			return nil
		}
		n.From = hexToTronAddress(v.OwnerAddress)
		n.ContractAddress = hexToTronAddress(v.ContractAddress)

		data, err := hex.DecodeString(v.Data)
		if err != nil {
			n.To = n.ContractAddress
			n.Class = TxClassContractCall
			return n
		}
		if transfer, ok := DecodeTransferCalldata(data); ok {
			n.To = encodeTronAddress(transfer.To)
			n.Amount = transfer.Amount
			n.Class = TxClassTokenTransfer
		} else {
			n.To = n.ContractAddress
			n.Class = TxClassContractCall
		}

	default:
		n.Class = TxClassOther
	}

	return n
}

type tronTxInfo struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Fee         int64  `json:"fee"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
}

// TransactionReceipt 查询回执
// 普通转账没有 receipt.result 字段，缺省视为成功
func (a *TronAdapter) TransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	var info tronTxInfo
	if err := a.post(ctx, "/wallet/gettransactioninfobyid", map[string]interface{}{"value": txHash}, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, ErrTxNotFound
	}

	success := info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS"
	return &TxReceipt{
		TxHash:      txHash,
		Success:     success,
		BlockNumber: info.BlockNumber,
		Fee:         decimal.NewFromInt(info.Fee),
	}, nil
}

// NativeBalance 原生币余额 (sun)
func (a *TronAdapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	hexAddr, err := tronAddressToHex(address)
	if err != nil {
		return decimal.Zero, err
	}

	var account struct {
		Balance int64 `json:"balance"`
	}
	err = a.post(ctx, "/wallet/getaccount", map[string]interface{}{"address": hexAddr}, &account)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(account.Balance), nil
}

// TokenBalance 代币余额，只读调用 balanceOf
func (a *TronAdapter) TokenBalance(ctx context.Context, contractAddress, address string) (decimal.Decimal, error) {
	ownerHex, err := tronAddressToHex(address)
	if err != nil {
		return decimal.Zero, err
	}
	contractHex, err := tronAddressToHex(contractAddress)
	if err != nil {
		return decimal.Zero, err
	}

	addrBytes, err := hex.DecodeString(ownerHex)
	if err != nil {
		return decimal.Zero, err
	}
	// EVM 参数去掉 41 版本字节
	param := EncodeBalanceOfCalldata(addrBytes[1:])

	var result struct {
		ConstantResult []string `json:"constant_result"`
	}
	err = a.post(ctx, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":    ownerHex,
		"contract_address": contractHex,
		"data":             hex.EncodeToString(param),
	}, &result)
	if err != nil {
		return decimal.Zero, err
	}
	if len(result.ConstantResult) == 0 {
		return decimal.Zero, nil
	}

	raw, err := hex.DecodeString(result.ConstantResult[0])
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(raw), 0), nil
}

// AccountResources 账户资源余量
func (a *TronAdapter) AccountResources(ctx context.Context, address string) (*AccountResources, error) {
	hexAddr, err := tronAddressToHex(address)
	if err != nil {
		return nil, err
	}

	var res struct {
		FreeNetUsed  int64 `json:"freeNetUsed"`
		FreeNetLimit int64 `json:"freeNetLimit"`
		NetUsed      int64 `json:"NetUsed"`
		NetLimit     int64 `json:"NetLimit"`
		EnergyUsed   int64 `json:"EnergyUsed"`
		EnergyLimit  int64 `json:"EnergyLimit"`
	}
	if err := a.post(ctx, "/wallet/getaccountresource", map[string]interface{}{"address": hexAddr}, &res); err != nil {
		return nil, err
	}

	return &AccountResources{
		EnergyAvailable:    res.EnergyLimit - res.EnergyUsed,
		BandwidthAvailable: (res.FreeNetLimit - res.FreeNetUsed) + (res.NetLimit - res.NetUsed),
	}, nil
}

// ResourcePrices 资源单价，带缓存；拉取失败回落到兜底单价
func (a *TronAdapter) ResourcePrices(ctx context.Context) (*ResourcePrices, error) {
	a.priceMu.RLock()
	if a.cachedPrices != nil && time.Since(a.pricesFetchedAt) < resourcePriceTTL {
		prices := a.cachedPrices
		a.priceMu.RUnlock()
		return prices, nil
	}
	a.priceMu.RUnlock()

	var params struct {
		ChainParameter []struct {
			Key   string `json:"key"`
			Value int64  `json:"value"`
		} `json:"chainParameter"`
	}
	err := a.post(ctx, "/wallet/getchainparameters", map[string]interface{}{}, &params)
	if err != nil {
		logger.Warn("failed to fetch chain parameters, using fallback prices",
			zap.String("chain", a.chainCode),
			zap.Error(err))
		return &ResourcePrices{
			EnergyPrice:    fallbackEnergyPrice,
			BandwidthPrice: fallbackBandwidthPrice,
		}, nil
	}

	prices := &ResourcePrices{
		EnergyPrice:    fallbackEnergyPrice,
		BandwidthPrice: fallbackBandwidthPrice,
	}
	for _, p := range params.ChainParameter {
		switch p.Key {
		case "getEnergyFee":
			prices.EnergyPrice = decimal.NewFromInt(p.Value)
		case "getTransactionFee":
			prices.BandwidthPrice = decimal.NewFromInt(p.Value)
		}
	}

	a.priceMu.Lock()
	a.cachedPrices = prices
	a.pricesFetchedAt = time.Now()
	a.priceMu.Unlock()

	return prices, nil
}

// EstimateFee 估算手续费
// 资源不足部分按单价折算燃烧的 TRX：max(0, 需求-余量) * 单价
func (a *TronAdapter) EstimateFee(ctx context.Context, req *TransferRequest) (decimal.Decimal, error) {
	prices, err := a.ResourcePrices(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	resources, err := a.AccountResources(ctx, req.FromAddress)
	if err != nil {
		return decimal.Zero, err
	}

	var energyNeeded, bandwidthNeeded int64
	if req.ContractAddress == "" {
		bandwidthNeeded = tronNativeBandwidth
	} else {
		bandwidthNeeded = tronTokenBandwidth
		energyNeeded, err = a.estimateEnergy(ctx, req)
		if err != nil {
			return decimal.Zero, err
		}
	}

	return EstimateResourceFee(resources, prices, energyNeeded, bandwidthNeeded), nil
}

// EstimateResourceFee 资源缺口折算手续费
func EstimateResourceFee(res *AccountResources, prices *ResourcePrices, energyNeeded, bandwidthNeeded int64) decimal.Decimal {
	fee := decimal.Zero

	if shortfall := energyNeeded - res.EnergyAvailable; shortfall > 0 {
		fee = fee.Add(decimal.NewFromInt(shortfall).Mul(prices.EnergyPrice))
	}
	if shortfall := bandwidthNeeded - res.BandwidthAvailable; shortfall > 0 {
		fee = fee.Add(decimal.NewFromInt(shortfall).Mul(prices.BandwidthPrice))
	}
	return fee
}

// estimateEnergy 只读执行 transfer 估算 energy 消耗
func (a *TronAdapter) estimateEnergy(ctx context.Context, req *TransferRequest) (int64, error) {
	ownerHex, err := tronAddressToHex(req.FromAddress)
	if err != nil {
		return 0, err
	}
	contractHex, err := tronAddressToHex(req.ContractAddress)
	if err != nil {
		return 0, err
	}
	toHex, err := tronAddressToHex(req.ToAddress)
	if err != nil {
		return 0, err
	}
	toBytes, err := hex.DecodeString(toHex)
	if err != nil {
		return 0, err
	}

	data := EncodeTransferCalldata(toBytes[1:], req.Amount)

	var result struct {
		EnergyUsed int64 `json:"energy_used"`
	}
	err = a.post(ctx, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":    ownerHex,
		"contract_address": contractHex,
		"data":             hex.EncodeToString(data),
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.EnergyUsed, nil
}

// tronRawTx 全节点返回的待签名交易
type tronRawTx struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature,omitempty"`
	Error      string          `json:"Error,omitempty"`
}

// Transfer 构建、签名并广播转账
func (a *TronAdapter) Transfer(ctx context.Context, req *TransferRequest) (string, error) {
	ownerHex, err := tronAddressToHex(req.FromAddress)
	if err != nil {
		return "", err
	}

	var rawTx tronRawTx
	if req.ContractAddress == "" {
		toHex, err := tronAddressToHex(req.ToAddress)
		if err != nil {
			return "", err
		}
		err = a.post(ctx, "/wallet/createtransaction", map[string]interface{}{
			"owner_address": ownerHex,
			"to_address":    toHex,
			"amount":        req.Amount.IntPart(),
		}, &rawTx)
		if err != nil {
			return "", err
		}
	} else {
		contractHex, err := tronAddressToHex(req.ContractAddress)
		if err != nil {
			return "", err
		}
		toHex, err := tronAddressToHex(req.ToAddress)
		if err != nil {
			return "", err
		}
		toBytes, err := hex.DecodeString(toHex)
		if err != nil {
			return "", err
		}
		data := EncodeTransferCalldata(toBytes[1:], req.Amount)

		var trigger struct {
			Transaction tronRawTx `json:"transaction"`
			Result      struct {
				Result  bool   `json:"result"`
				Message string `json:"message"`
			} `json:"result"`
		}
		err = a.post(ctx, "/wallet/triggersmartcontract", map[string]interface{}{
			"owner_address":    ownerHex,
			"contract_address": contractHex,
			"data":             hex.EncodeToString(data),
			"fee_limit":        tronTokenFeeLimit,
			"call_value":       0,
		}, &trigger)
		if err != nil {
			return "", err
		}
		if !trigger.Result.Result {
			return "", fmt.Errorf("trigger smart contract rejected: %s", trigger.Result.Message)
		}
		rawTx = trigger.Transaction
	}

	if rawTx.Error != "" {
		return "", fmt.Errorf("create transaction failed: %s", rawTx.Error)
	}
	if rawTx.TxID == "" || rawTx.RawDataHex == "" {
		return "", fmt.Errorf("fullnode returned incomplete transaction")
	}

	signature, err := signTronTx(rawTx.RawDataHex, req.PrivateKeyHex)
	if err != nil {
		return "", err
	}
	rawTx.Signature = []string{signature}

	var broadcast struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := a.post(ctx, "/wallet/broadcasttransaction", rawTx, &broadcast); err != nil {
		return "", err
	}
	if !broadcast.Result {
		return "", fmt.Errorf("broadcast rejected: code=%s message=%s", broadcast.Code, broadcast.Message)
	}

	return rawTx.TxID, nil
}

// signTronTx 对 raw_data 的 sha256 摘要做 secp256k1 签名
func signTronTx(rawDataHex, privateKeyHex string) (string, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	rawData, err := hex.DecodeString(rawDataHex)
	if err != nil {
		return "", fmt.Errorf("decode raw_data_hex: %w", err)
	}

	digest := sha256.Sum256(rawData)
	sig, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// ValidateAddress 校验 base58check 地址
func (a *TronAdapter) ValidateAddress(address string) bool {
	_, version, err := base58.CheckDecode(address)
	return err == nil && version == tronAddressPrefix
}

// Close 实现 Adapter 接口，HTTP 客户端无需显式关闭
func (a *TronAdapter) Close() {}

// tronAddressToHex base58check 地址转 41 前缀 hex
func tronAddressToHex(address string) (string, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil || version != tronAddressPrefix {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	return hex.EncodeToString(append([]byte{version}, payload...)), nil
}

// hexToTronAddress 41 前缀 hex 转 base58check；解析失败返回原串
func hexToTronAddress(hexAddr string) string {
	raw, err := hex.DecodeString(hexAddr)
	if err != nil || len(raw) != 21 {
		return hexAddr
	}
	return base58.CheckEncode(raw[1:], raw[0])
}

// encodeTronAddress 20 字节 EVM 地址编码为 base58check
func encodeTronAddress(addr []byte) string {
	return base58.CheckEncode(addr, tronAddressPrefix)
}

// TronAddressFromPubkey 公钥推导地址：keccak256(pubkey)[12:] 加版本字节
func TronAddressFromPubkey(pub []byte) string {
	hash := crypto.Keccak256(pub[1:]) // 去掉 04 前缀
	return encodeTronAddress(hash[12:])
}
