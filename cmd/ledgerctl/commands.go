package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"investledger/internal/app"
	"investledger/internal/config"
	"investledger/internal/infrastructure/cache"
	"investledger/internal/infrastructure/database"
	"investledger/internal/infrastructure/logging"
	"investledger/internal/infrastructure/mq"
	"investledger/internal/job"
	"investledger/pkg/clock"
	"investledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

// ledgerctl 是外部调度器（cron、k8s CronJob）触发批处理的入口，也用于人工对账

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "账本批处理与对账工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.yaml", "配置文件路径")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "执行一轮扫描任务",
	}
	sweep.AddCommand(newSweepAccrualCmd(opts), newSweepWithdrawalsCmd(opts))

	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "本地消息表运维",
	}
	outbox.AddCommand(newRequeueFailedCmd(opts))

	root.AddCommand(sweep, outbox, newReconcileCmd(opts))
	return root
}

func newSweepAccrualCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "accrual",
		Short: "计息扫描：发放到期收益并结算到期理财",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := bootstrap(opts, false)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.AccrualSweep.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newSweepWithdrawalsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "withdrawals",
		Short: "提现超时扫描：关闭过期的 pending 提现单",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := bootstrap(opts, false)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.WithdrawalTimeout.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newReconcileCmd(opts *options) *cobra.Command {
	var (
		userID int64
		all    bool
		repair bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "用流水重建用户余额并与快照对比",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 && !all {
				return fmt.Errorf("--user 必须大于0，或者指定 --all")
			}
			a, cleanup, err := bootstrap(opts, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if all {
				drifts, err := a.Balance.ReconcileAll(cmd.Context(), repair, a.Config.Business.SweepBatchSize)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"drifted": len(drifts),
					"users":   drifts,
				})
			}

			drift, err := a.Balance.Reconcile(cmd.Context(), userID, repair)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), drift)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "用户ID")
	cmd.Flags().BoolVar(&all, "all", false, "逐个检查所有有余额的用户，只输出不一致的")
	cmd.Flags().BoolVar(&repair, "repair", false, "不一致时用重建结果覆盖快照")
	return cmd
}

func newRequeueFailedCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "requeue-failed",
		Short: "把投递失败的消息重新放回待投递队列",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := bootstrap(opts, true)
			if err != nil {
				return err
			}
			defer cleanup()
			if a.Outbox == nil {
				return fmt.Errorf("未配置 Kafka broker")
			}

			n, err := a.Outbox.RequeueFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"requeued": n})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "单次最多处理条数")
	return cmd
}

// bootstrap 加载配置并装配服务；withKafka=false 时不连接 Kafka，流水事件仍写入本地消息表
func bootstrap(opts *options, withKafka bool) (*app.App, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.Server.LogLevel)
	idgen.Init(cfg.Server.WorkerID)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}

	var closers []func()
	closers = append(closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var rdb redis.Cmdable
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(context.Background(), &cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		rdb = client
		closers = append(closers, func() { _ = client.Close() })
	}

	var publisher job.Publisher
	if withKafka {
		if producer := mq.InitKafka(&cfg.Kafka); producer != nil {
			publisher = producer
			closers = append(closers, func() { _ = producer.Close() })
		}
	}

	return app.New(db, rdb, publisher, cfg, clock.RealClock{}), cleanup, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
