package cache

import (
	"context"
	"fmt"
	"time"

	"investledger/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

var RedisClient *redis.Client

// NewClient 创建 Redis 客户端并探活
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// InitRedis 启动时初始化；未启用 Redis 时返回 nil，扫描任务不加租约直接运行
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		logrus.Info("未启用 Redis，扫描任务不使用租约")
		return nil
	}
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	RedisClient = client
	logrus.Info("Redis 连接成功")
	return client
}

func CloseRedis() {
	if RedisClient != nil {
		_ = RedisClient.Close()
	}
}
