package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"investledger/internal/app"
	"investledger/internal/config"
	"investledger/internal/handler"
	"investledger/internal/infrastructure/cache"
	"investledger/internal/infrastructure/database"
	"investledger/internal/infrastructure/logging"
	"investledger/internal/infrastructure/mq"
	"investledger/internal/job"
	"investledger/pkg/clock"
	"investledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := os.Getenv("LEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg := config.LoadConfig(configPath)
	logging.Setup(cfg.Server.LogLevel)

	idgen.Init(cfg.Server.WorkerID)

	db := database.InitDB(&cfg.Database)

	// 接口类型的 nil 要显式处理，否则 (*redis.Client)(nil) 会被当成可用客户端
	var rdb redis.Cmdable
	if client := cache.InitRedis(&cfg.Redis); client != nil {
		rdb = client
		defer cache.CloseRedis()
	}

	var publisher job.Publisher
	if producer := mq.InitKafka(&cfg.Kafka); producer != nil {
		publisher = producer
		defer producer.Close()
	}

	a := app.New(db, rdb, publisher, cfg, clock.RealClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.Outbox != nil {
		go a.Outbox.Start(ctx)
	}
	go a.AccrualSweep.Start(ctx)
	go a.WithdrawalTimeout.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭服务...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("服务关闭异常: %v", err)
	}

	logrus.Info("服务已关闭")
}
