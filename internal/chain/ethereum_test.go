package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestEthAdapter() *EthereumAdapter {
	return &EthereumAdapter{chainCode: "ETH", chainID: 1}
}

func TestEthNormalize_NativeTransfer(t *testing.T) {
	a := newTestEthAdapter()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := types.NewTransaction(0, to, big.NewInt(1_500000000000000000), 21000, big.NewInt(1), nil)

	n := a.normalize(tx, from, 100)

	assert.Equal(t, TxClassNativeTransfer, n.Class)
	assert.Equal(t, from.Hex(), n.From)
	assert.Equal(t, to.Hex(), n.To)
	assert.Empty(t, n.ContractAddress)
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("1500000000000000000")))
	assert.Equal(t, int64(100), n.BlockNumber)
}

func TestEthNormalize_TokenTransfer(t *testing.T) {
	a := newTestEthAdapter()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	data := EncodeTransferCalldata(recipient.Bytes(), decimal.NewFromInt(100_000000))
	tx := types.NewTransaction(0, contract, big.NewInt(0), 90000, big.NewInt(1), data)

	n := a.normalize(tx, from, 200)

	assert.Equal(t, TxClassTokenTransfer, n.Class)
	assert.Equal(t, recipient.Hex(), n.To)
	assert.Equal(t, contract.Hex(), n.ContractAddress)
	assert.True(t, n.Amount.Equal(decimal.NewFromInt(100_000000)))
}

func TestEthNormalize_MalformedTransferCalldata(t *testing.T) {
	a := newTestEthAdapter()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	// transfer 选择器但参数截断
	data, _ := hex.DecodeString("a9059cbb1234")
	tx := types.NewTransaction(0, contract, big.NewInt(0), 90000, big.NewInt(1), data)

	n := a.normalize(tx, from, 300)

	assert.Equal(t, TxClassContractCall, n.Class)
	assert.True(t, n.Amount.IsZero())
}

func TestEthNormalize_ApproveIsContractCall(t *testing.T) {
	a := newTestEthAdapter()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := make([]byte, transferCalldataLen)
	copy(data[:4], methodIDApprove)
	tx := types.NewTransaction(0, contract, big.NewInt(0), 60000, big.NewInt(1), data)

	n := a.normalize(tx, from, 400)

	assert.Equal(t, TxClassContractCall, n.Class)
}

func TestEthValidateAddress(t *testing.T) {
	a := newTestEthAdapter()

	assert.True(t, a.ValidateAddress("0x1234567890123456789012345678901234567890"))
	assert.False(t, a.ValidateAddress("0x12345"))
	assert.False(t, a.ValidateAddress("TBrokenAddress"))
	assert.False(t, a.ValidateAddress(""))
}
