package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentVault-Core/internal/api"
	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/auth"
	"AgentVault-Core/internal/clock"
	"AgentVault-Core/internal/config"
	"AgentVault-Core/internal/escrow"
	"AgentVault-Core/internal/ledger"
	"AgentVault-Core/internal/observability/alerting"
	"AgentVault-Core/internal/observability/metrics"
	"AgentVault-Core/internal/policy"
	"AgentVault-Core/internal/storage/mysql"
	"AgentVault-Core/internal/web3"
	"AgentVault-Core/internal/web3/provider"
	"AgentVault-Core/pkg/logger"
)

// main 是金库守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("vaultd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("VAULTD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "vault.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditLogPath != "",
			Path:    cfg.Logging.AuditLogPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 策略与托管共用同一个内部账本，托管划转直接反映在可用余额上。
	ldgr := ledger.NewMemoryLedger()

	subjectStore, escrowStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	sink, err := buildAuditSink(cfg)
	if err != nil {
		return err
	}
	relay := audit.NewRelay(sink, audit.WithRelayLogger(logger.Named("audit-relay")))
	defer func() {
		if err := relay.Close(); err != nil {
			logger.L().Warn("关闭审计中继失败", "error", err)
		}
	}()

	alerter := buildAlerter(cfg)

	engineClock, chainRegistry, err := buildClock(ctx, cfg)
	if err != nil {
		return err
	}
	if chainRegistry != nil {
		defer chainRegistry.Close()
	}

	policyEngine := policy.NewEngine(subjectStore, ldgr, policy.Config{
		MaxHoldDuration: time.Duration(cfg.Policy.MaxHoldHours) * time.Hour,
		RoleTimelock:    time.Duration(cfg.Policy.RoleTimelockHours) * time.Hour,
	},
		policy.WithClock(engineClock),
		policy.WithAuditSink(relay),
		policy.WithAlerter(alerter),
	)

	escrowEngine := escrow.NewEngine(escrowStore, ldgr, escrow.Config{
		FeeBps:          cfg.Escrow.FeeBps,
		FeeRecipient:    cfg.Escrow.FeeRecipient,
		Arbiter:         cfg.Escrow.Arbiter,
		MinEscrowAmount: cfg.EscrowMinAmount(),
		MaxDeadline:     time.Duration(cfg.Escrow.MaxDeadlineDays) * 24 * time.Hour,
	},
		escrow.WithClock(engineClock),
		escrow.WithAuditSink(relay),
		escrow.WithAlerter(alerter),
		escrow.WithReservations(policyEngine),
	)

	serverOpts := []api.ServerOption{
		api.WithAuthService(buildAuthService(cfg)),
	}

	if cfg.Paymaster.Enabled {
		guard := policy.NewPaymasterGuard(policy.PaymasterGuardConfig{
			Authority:    cfg.Paymaster.Authority,
			DailyCap:     cfg.PaymasterDailyCap(),
			Allowlist:    cfg.Paymaster.Allowlist,
			RoleTimelock: time.Duration(cfg.Policy.RoleTimelockHours) * time.Hour,
		},
			policy.WithPaymasterClock(engineClock),
			policy.WithPaymasterAuditSink(relay),
		)
		serverOpts = append(serverOpts, api.WithPaymaster(guard))
	}

	if chainRegistry != nil {
		serverOpts = append(serverOpts, api.WithChainRegistry(chainRegistry))
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, policyEngine, escrowEngine, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildStores 按配置选择主体与托管单的存储后端。
func buildStores(ctx context.Context, cfg *config.Config) (policy.Store, escrow.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return policy.NewMemoryStore(), escrow.NewMemoryStore(), func() {}, nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeMinutes) * time.Minute,
			ConnMaxIdleTime: time.Duration(cfg.Storage.MySQL.ConnMaxIdleMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		closer := func() {
			if err := db.Close(); err != nil {
				logger.L().Warn("关闭数据库连接失败", "error", err)
			}
		}
		return mysql.NewSubjectStore(db), mysql.NewEscrowStore(db), closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// buildAuditSink 按配置选择审计事件的投递后端。
func buildAuditSink(cfg *config.Config) (audit.Sink, error) {
	switch cfg.Audit.Driver {
	case "", "memory":
		return audit.NewMemorySink(), nil
	case "redis":
		return audit.NewRedisSink(audit.RedisSinkConfig{
			Address:  cfg.Audit.Redis.Address,
			Password: cfg.Audit.Redis.Password,
			DB:       cfg.Audit.Redis.DB,
			Stream:   cfg.Audit.Redis.Stream,
		})
	case "rabbitmq":
		return audit.NewRabbitMQSink(audit.RabbitMQSinkConfig{
			URL:     cfg.Audit.RabbitMQ.URL,
			Queue:   cfg.Audit.RabbitMQ.Queue,
			Durable: cfg.Audit.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的审计驱动: %s", cfg.Audit.Driver)
	}
}

func buildAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func buildAuthService(cfg *config.Config) *auth.Service {
	var store auth.Store
	if cfg.Auth.Mode == string(auth.ModeAPIKey) {
		memStore := auth.NewMemoryStore()
		credentials := make([]auth.Credential, 0, len(cfg.Auth.APIKeys))
		for _, key := range cfg.Auth.APIKeys {
			credentials = append(credentials, auth.Credential{
				Key:   key.Key,
				Actor: key.Actor,
				Label: key.Label,
			})
		}
		memStore.Seed(credentials)
		store = memStore
	}
	return auth.NewService(auth.ServiceConfig{
		Mode:  auth.Mode(cfg.Auth.Mode),
		Store: store,
		Audit: logger.Audit(),
	})
}

// buildClock 在启用链时间时用默认链的区块时间驱动引擎时钟，
// 否则使用系统时钟。返回的注册表同时服务链状态查询路由。
func buildClock(ctx context.Context, cfg *config.Config) (clock.Clock, *provider.Registry, error) {
	if !cfg.Web3.Enabled {
		return clock.System(), nil, nil
	}

	registry, err := provider.NewRegistry(ctx, config.Web3Config{
		ChainConfig:  cfg.Web3.ChainConfig,
		DefaultChain: cfg.Web3.DefaultChain,
		RPCURL:       cfg.Web3.RPCURL,
	})
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Web3.BlockClock {
		return clock.System(), registry, nil
	}

	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return web3.NewBlockClock(client, logger.Named("blockclock")), registry, nil
}
