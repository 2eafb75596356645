package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSendLockTimeout = errors.New("failed to acquire send lock")

// Sender 出账发送器
// 同一资金钱包的发送串行化：进程内互斥锁 + Redis 分布式锁双层保护，
// 避免并发广播导致 nonce 冲突或资源重复占用
type Sender struct {
	registry *Registry
	redis    *redis.Client

	lockTTL     time.Duration
	acquireWait time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// SenderConfig 发送器配置
type SenderConfig struct {
	LockTTL     time.Duration
	AcquireWait time.Duration
}

// NewSender 创建出账发送器
func NewSender(registry *Registry, rdb *redis.Client, cfg *SenderConfig) *Sender {
	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 60 * time.Second
	}
	acquireWait := cfg.AcquireWait
	if acquireWait == 0 {
		acquireWait = 30 * time.Second
	}

	return &Sender{
		registry:    registry,
		redis:       rdb,
		lockTTL:     lockTTL,
		acquireWait: acquireWait,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockKey 生成分布式锁 key
func (s *Sender) lockKey(chainCode, address string) string {
	return fmt.Sprintf("custody:chain:send:lock:%s:%s", chainCode, address)
}

// walletLock 取同一资金钱包的进程内互斥锁
func (s *Sender) walletLock(chainCode, address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chainCode + ":" + address
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Send 串行化发送一笔转账
func (s *Sender) Send(ctx context.Context, chainCode string, req *TransferRequest) (string, error) {
	adapter, err := s.registry.Get(chainCode)
	if err != nil {
		return "", err
	}

	lock := s.walletLock(chainCode, req.FromAddress)
	lock.Lock()
	defer lock.Unlock()

	token, err := s.acquireLock(ctx, chainCode, req.FromAddress)
	if err != nil {
		return "", err
	}
	defer s.releaseLock(ctx, chainCode, req.FromAddress, token)

	return adapter.Transfer(ctx, req)
}

// acquireLock 获取分布式锁，在 acquireWait 窗口内轮询
// 返回本次持锁的 token，释放时校验归属
func (s *Sender) acquireLock(ctx context.Context, chainCode, address string) (string, error) {
	key := s.lockKey(chainCode, address)
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	deadline := time.Now().Add(s.acquireWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := s.redis.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrSendLockTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaseLock 释放分布式锁
// Lua 脚本保证只释放自己持有的锁，TTL 过期后被他人抢占时不误删
func (s *Sender) releaseLock(ctx context.Context, chainCode, address, token string) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`

	_, err := s.redis.Eval(ctx, script, []string{s.lockKey(chainCode, address)}, token).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}
