package chain

import (
	"bytes"
	"math/big"

	"github.com/shopspring/decimal"
)

// ERC-20 方法选择器，TRC-20 与之完全兼容
var (
	methodIDTransfer = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	methodIDApprove  = []byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
)

// transferCalldataLen 4 字节选择器 + 两个 32 字节参数
const transferCalldataLen = 4 + 32 + 32

// TokenTransfer 从 calldata 解出的 transfer 调用
type TokenTransfer struct {
	To     []byte // 20 字节收款地址
	Amount decimal.Decimal
}

// DecodeTransferCalldata 解析 transfer(address,uint256) calldata
// 选择器匹配但参数长度不符时返回 ok=false，调用方应归类为合约调用
func DecodeTransferCalldata(data []byte) (*TokenTransfer, bool) {
	if len(data) != transferCalldataLen || !bytes.Equal(data[:4], methodIDTransfer) {
		return nil, false
	}
	// address 参数左填充 12 字节零
	to := data[4+12 : 4+32]
	amount := new(big.Int).SetBytes(data[4+32 : 4+64])
	return &TokenTransfer{
		To:     to,
		Amount: decimal.NewFromBigInt(amount, 0),
	}, true
}

// IsTransferCalldata 判断是否为 transfer 选择器（不校验参数完整性）
func IsTransferCalldata(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], methodIDTransfer)
}

// IsApproveCalldata 判断是否为 approve 选择器
func IsApproveCalldata(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], methodIDApprove)
}

// EncodeTransferCalldata 构造 transfer(address,uint256) calldata
// to 为 20 字节地址
func EncodeTransferCalldata(to []byte, amount decimal.Decimal) []byte {
	data := make([]byte, transferCalldataLen)
	copy(data[:4], methodIDTransfer)
	copy(data[4+32-len(to):4+32], to)
	amtBytes := amount.BigInt().Bytes()
	copy(data[4+64-len(amtBytes):4+64], amtBytes)
	return data
}

// balanceOf(address) 选择器
var methodIDBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31}

// EncodeBalanceOfCalldata 构造 balanceOf(address) calldata
func EncodeBalanceOfCalldata(address []byte) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], methodIDBalanceOf)
	copy(data[4+32-len(address):4+32], address)
	return data
}
