package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig 描述 Redis 审计通道的连接参数。
type RedisSinkConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
}

// RedisSink 将审计事件追加到 Redis list，由外部锚定服务消费。
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink 创建 Redis 审计通道。
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "agentvault:audit"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisSink{client: client, stream: stream}, nil
}

// Emit 实现 Sink 接口。
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码审计事件失败: %w", err)
	}
	if err := s.client.LPush(ctx, s.stream, payload).Err(); err != nil {
		return fmt.Errorf("Redis 写入审计事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
