package web3

import (
	"context"
	"log/slog"
	"sync"
	"time"

	loggerpkg "AgentVault-Core/pkg/logger"
)

// BlockClock 以链上最新区块时间作为策略与托管引擎的时间来源，
// 使冻结过期与托管截止的判定跟随链时间。区块时间读取失败时
// 回退到本地时钟，并保证单调不回退。
type BlockClock struct {
	client  Client
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewBlockClock 创建链时间时钟。
func NewBlockClock(client Client, log *slog.Logger) *BlockClock {
	if log == nil {
		log = loggerpkg.Named("blockclock")
	}
	return &BlockClock{
		client:  client,
		timeout: 3 * time.Second,
		logger:  log,
	}
}

// Now 实现 clock.Clock。
func (c *BlockClock) Now() time.Time {
	now := time.Now()
	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		blockTime, err := c.client.BlockTime(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("读取区块时间失败，回退本地时钟", slog.Any("error", err))
		} else {
			now = blockTime
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}
