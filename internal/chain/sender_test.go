package chain

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func setupSender(t *testing.T) (*Sender, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	registry := NewRegistry()
	registry.Register(&fakeAdapter{chainCode: "ETH"})

	sender := NewSender(registry, rdb, &SenderConfig{
		LockTTL:     time.Second,
		AcquireWait: 50 * time.Millisecond,
	})
	return sender, mr
}

func TestSender_Send_Success(t *testing.T) {
	sender, mr := setupSender(t)

	txHash, err := sender.Send(context.Background(), "ETH", &TransferRequest{
		FromAddress: "0xfunding",
		ToAddress:   "0xcold",
		Amount:      decimal.NewFromInt(1000),
	})

	assert.NoError(t, err)
	assert.Equal(t, "0xfakehash", txHash)
	// 锁在发送完成后释放
	assert.False(t, mr.Exists("custody:chain:send:lock:ETH:0xfunding"))
}

func TestSender_Send_UnknownChain(t *testing.T) {
	sender, _ := setupSender(t)

	_, err := sender.Send(context.Background(), "DOGE", &TransferRequest{})

	assert.ErrorIs(t, err, ErrChainNotSupported)
}

func TestSender_Send_LockHeldElsewhere(t *testing.T) {
	sender, mr := setupSender(t)

	// 另一实例持有该资金钱包的锁
	mr.Set("custody:chain:send:lock:ETH:0xfunding", "1")

	_, err := sender.Send(context.Background(), "ETH", &TransferRequest{
		FromAddress: "0xfunding",
		ToAddress:   "0xcold",
		Amount:      decimal.NewFromInt(1000),
	})

	assert.ErrorIs(t, err, ErrSendLockTimeout)
}

func TestSender_ReleaseLock_OnlyOwnToken(t *testing.T) {
	sender, mr := setupSender(t)
	ctx := context.Background()

	token, err := sender.acquireLock(ctx, "ETH", "0xfunding")
	assert.NoError(t, err)

	// TTL 过期后锁被另一实例抢占，过期持有者不得误删
	mr.Set("custody:chain:send:lock:ETH:0xfunding", "other-holder")
	assert.NoError(t, sender.releaseLock(ctx, "ETH", "0xfunding", token))
	assert.True(t, mr.Exists("custody:chain:send:lock:ETH:0xfunding"))

	// 持有者本人释放生效
	assert.NoError(t, sender.releaseLock(ctx, "ETH", "0xfunding", "other-holder"))
	assert.False(t, mr.Exists("custody:chain:send:lock:ETH:0xfunding"))
}

func TestSender_Send_DifferentWalletsIndependent(t *testing.T) {
	sender, mr := setupSender(t)

	// 其他钱包的锁不影响本钱包
	mr.Set("custody:chain:send:lock:ETH:0xother", "1")

	txHash, err := sender.Send(context.Background(), "ETH", &TransferRequest{
		FromAddress: "0xfunding",
		ToAddress:   "0xcold",
		Amount:      decimal.NewFromInt(1000),
	})

	assert.NoError(t, err)
	assert.Equal(t, "0xfakehash", txHash)
}
