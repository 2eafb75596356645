// Package app 提供托管钱包服务的应用入口
//
// ========================================
// aether-custody 服务对接总览
// ========================================
//
// ## 服务信息
// - 服务名: aether-custody
// - gRPC 端口: 50057 (健康检查)
// - HTTP 端口: 8087 (metrics + health)
// - 数据库: aether_custody (PostgreSQL)
//
// ## 依赖服务
// - PostgreSQL: 链目录、充值地址、待确认交易、账本、归集与提现订单
// - Redis: 任务分布式锁、出账地址锁
// - Kafka: 入账/提现状态事件发布，提现审核决定订阅
// - 链节点: 各链 RPC/fullnode 接入
//
// ## 任务列表 (每条链一个实例，如 deposit-scan-ETH / deposit-scan-TRON)
// 1. deposit-scan-<chain>: 扫块发现充值 (每10秒)
// 2. deposit-confirm-<chain>: 充值确认入账 (每15秒)
// 3. collection-sweep-<chain>: 归集巡检 (每5分钟)
// 4. withdraw-process-<chain>: 提现广播 (每10秒)
// 5. withdraw-reconcile-<chain>: 提现对账 (每2分钟)
//
// ========================================
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aether-exchange/aether-custody/internal/chain"
	"github.com/aether-exchange/aether-custody/internal/config"
	"github.com/aether-exchange/aether-custody/internal/jobs"
	"github.com/aether-exchange/aether-custody/internal/kafka"
	"github.com/aether-exchange/aether-custody/internal/ledger"
	"github.com/aether-exchange/aether-custody/internal/repository"
	"github.com/aether-exchange/aether-custody/internal/scheduler"
	"github.com/aether-exchange/aether-custody/internal/service"
	"github.com/aether-exchange/aether-custody/internal/vault"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// App 托管钱包服务应用
type App struct {
	cfg *config.Config

	// 基础设施
	db           *gorm.DB
	redisClient  *redis.Client
	registry     *chain.Registry
	keyVault     *vault.Vault
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server

	// Kafka
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	publisher kafka.EventPublisher

	// 调度器
	scheduler *scheduler.Scheduler

	// 仓储层
	base           *repository.Repository
	catalogRepo    repository.CatalogRepository
	cursorRepo     repository.CursorRepository
	pendingRepo    repository.PendingTxRepository
	walletRepo     repository.WalletRepository
	collectionRepo repository.CollectionRepository
	withdrawRepo   repository.WithdrawRepository
	execRepo       repository.JobExecutionRepository

	// 服务层
	book        *ledger.Ledger
	sender      *chain.Sender
	scannerSvc  *service.ScannerService
	confirmSvc  *service.ConfirmService
	collectSvc  *service.CollectorService
	withdrawSvc *service.WithdrawService
	addressSvc  *service.AddressService

	// 上下文
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run 启动应用
func (a *App) Run() error {
	// 1. 初始化数据库
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	// 2. 初始化 Redis
	if err := a.initRedis(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}

	// 3. 初始化链适配器
	if err := a.initChains(); err != nil {
		return fmt.Errorf("failed to init chains: %w", err)
	}

	// 4. 初始化私钥保管
	if err := a.initVault(); err != nil {
		return fmt.Errorf("failed to init vault: %w", err)
	}

	// 5. 初始化仓储层
	a.initRepositories()

	// 6. 初始化 Kafka 生产者
	if err := a.initProducer(); err != nil {
		return fmt.Errorf("failed to init kafka producer: %w", err)
	}

	// 7. 初始化服务层
	a.initServices()

	// 8. 初始化 Kafka 消费者 (提现审核决定)
	if err := a.initConsumer(); err != nil {
		return fmt.Errorf("failed to init kafka consumer: %w", err)
	}

	// 9. 初始化调度器并注册任务
	a.initScheduler()
	a.registerJobs()
	a.scheduler.Start()

	// 10. 启动 gRPC 健康检查
	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	// 11. 启动 HTTP (metrics + health)
	a.startHTTP()

	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down custody service...")

	if a.healthServer != nil {
		a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.producer != nil {
		a.producer.Close()
	}

	if a.registry != nil {
		a.registry.Close()
	}

	if a.redisClient != nil {
		a.redisClient.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	a.cancel()
	logger.Info("custody service stopped")
	return nil
}

// initDB 初始化数据库
func (a *App) initDB() error {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), gormConfig)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", a.cfg.Postgres.Host),
		zap.String("database", a.cfg.Postgres.Database))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	return nil
}

// initRedis 初始化 Redis
func (a *App) initRedis() error {
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	logger.Info("redis connected",
		zap.String("addr", a.cfg.Redis.Addr),
		zap.Int("db", a.cfg.Redis.DB))

	return nil
}

// initChains 初始化链适配器
func (a *App) initChains() error {
	a.registry = chain.NewRegistry()

	for i := range a.cfg.Chains {
		chainCfg := &a.cfg.Chains[i]

		var adapter chain.Adapter
		var err error

		switch chainCfg.Kind {
		case config.ChainKindAccount:
			adapter, err = chain.NewEthereumAdapter(&chain.EthereumConfig{
				ChainCode:     chainCfg.Code,
				ChainID:       chainCfg.ChainID,
				RPCURLs:       chainCfg.RPCURLs,
				MaxRetries:    chainCfg.MaxRetries,
				RetryInterval: time.Duration(chainCfg.RetryIntervalMs) * time.Millisecond,
			})
		case config.ChainKindResource:
			adapter, err = chain.NewTronAdapter(&chain.TronConfig{
				ChainCode:     chainCfg.Code,
				APIURLs:       chainCfg.RPCURLs,
				MaxRetries:    chainCfg.MaxRetries,
				RetryInterval: time.Duration(chainCfg.RetryIntervalMs) * time.Millisecond,
				HTTPTimeout:   time.Duration(chainCfg.HTTPTimeoutSec) * time.Second,
			})
		default:
			return fmt.Errorf("chain %s: unknown kind %q", chainCfg.Code, chainCfg.Kind)
		}
		if err != nil {
			return fmt.Errorf("chain %s: %w", chainCfg.Code, err)
		}

		a.registry.Register(adapter)
		logger.Info("chain adapter registered",
			zap.String("chain", chainCfg.Code),
			zap.String("kind", chainCfg.Kind))
	}

	return nil
}

// initVault 初始化私钥保管
func (a *App) initVault() error {
	v, err := vault.New(a.db, a.cfg.Vault.MasterSecret)
	if err != nil {
		return err
	}
	a.keyVault = v
	return nil
}

// initRepositories 初始化仓储层
func (a *App) initRepositories() {
	a.base = repository.NewRepository(a.db)
	a.catalogRepo = repository.NewCatalogRepository(a.db)
	a.cursorRepo = repository.NewCursorRepository(a.db)
	a.pendingRepo = repository.NewPendingTxRepository(a.db)
	a.walletRepo = repository.NewWalletRepository(a.db)
	a.collectionRepo = repository.NewCollectionRepository(a.db)
	a.withdrawRepo = repository.NewWithdrawRepository(a.db)
	a.execRepo = repository.NewJobExecutionRepository(a.db)

	logger.Info("repositories initialized")
}

// initProducer 初始化 Kafka 生产者
func (a *App) initProducer() error {
	if !a.cfg.Kafka.Enabled {
		logger.Warn("kafka is disabled, events will not be published")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}

	a.producer = producer
	a.publisher = kafka.NewKafkaEventPublisher(producer)
	logger.Info("kafka producer created", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化服务层
func (a *App) initServices() {
	a.book = ledger.NewLedger(a.walletRepo, a.base)
	a.sender = chain.NewSender(a.registry, a.redisClient, &chain.SenderConfig{})

	a.scannerSvc = service.NewScannerService(
		a.registry,
		a.catalogRepo,
		a.cursorRepo,
		a.pendingRepo,
		&service.ScannerServiceConfig{
			BatchSize: a.cfg.Scanner.BatchSize,
		},
	)

	collectorChains := make(map[string]*service.CollectorChainConfig)
	withdrawChains := make(map[string]*service.WithdrawChainConfig)
	for i := range a.cfg.Chains {
		chainCfg := &a.cfg.Chains[i]
		if chainCfg.TreasuryAddress != "" {
			collectorChains[chainCfg.Code] = &service.CollectorChainConfig{
				TreasuryAddress: chainCfg.TreasuryAddress,
				FundingAddress:  chainCfg.FundingAddress,
				FundingKeyID:    chainCfg.FundingKeyID,
			}
		}
		if chainCfg.HotWalletAddress != "" {
			withdrawChains[chainCfg.Code] = &service.WithdrawChainConfig{
				HotWalletAddress: chainCfg.HotWalletAddress,
				HotWalletKeyID:   chainCfg.HotWalletKeyID,
			}
		}
	}

	a.collectSvc = service.NewCollectorService(
		a.registry,
		a.sender,
		a.catalogRepo,
		a.collectionRepo,
		a.keyVault,
		&service.CollectorServiceConfig{
			Chains:       collectorChains,
			PollInterval: time.Duration(a.cfg.Collector.PollIntervalSec) * time.Second,
			AwaitTimeout: time.Duration(a.cfg.Collector.AwaitTimeoutSec) * time.Second,
		},
	)

	a.confirmSvc = service.NewConfirmService(
		a.registry,
		a.catalogRepo,
		a.pendingRepo,
		a.book,
		a.base,
		a.publisher,
		a.collectSvc,
		&service.ConfirmServiceConfig{
			BatchSize: a.cfg.Confirm.BatchSize,
		},
	)

	a.withdrawSvc = service.NewWithdrawService(
		a.registry,
		a.sender,
		a.catalogRepo,
		a.withdrawRepo,
		a.book,
		a.base,
		a.keyVault,
		a.publisher,
		&service.WithdrawServiceConfig{
			Chains:       withdrawChains,
			BatchSize:    a.cfg.Withdraw.BatchSize,
			PollInterval: time.Duration(a.cfg.Withdraw.PollIntervalSec) * time.Second,
			AwaitTimeout: time.Duration(a.cfg.Withdraw.AwaitTimeoutSec) * time.Second,
		},
	)

	a.addressSvc = service.NewAddressService(a.catalogRepo, a.keyVault)

	logger.Info("services initialized")
}

// initConsumer 初始化 Kafka 消费者
// 提现审核决定由 WithdrawService 处理
func (a *App) initConsumer() error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}

	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers: a.cfg.Kafka.Brokers,
		GroupID: a.cfg.Kafka.GroupID,
		Handler: a.withdrawSvc,
	})
	if err != nil {
		return err
	}

	a.consumer = consumer
	return a.consumer.Start(a.ctx)
}

// initScheduler 初始化调度器
func (a *App) initScheduler() {
	a.scheduler = scheduler.NewScheduler(
		&scheduler.SchedulerConfig{
			MaxConcurrentJobs: a.cfg.Scheduler.MaxConcurrentJobs,
			RedisClient:       a.redisClient,
		},
		a.execRepo,
	)

	logger.Info("scheduler initialized",
		zap.Int("max_concurrent_jobs", a.cfg.Scheduler.MaxConcurrentJobs))
}

// registerJobs 注册任务
// 每条链注册独立的 (链, 阶段) 任务实例，各自 cron 与分布式锁互不影响；
/// cron 覆盖顺序: 链级任务名 ("deposit-scan-ETH") > 阶段名 ("deposit-scan") > 默认值
func (a *App) registerJobs() {
	register := func(phase string, job scheduler.Job) {
		jobCfg, ok := a.cfg.Scheduler.Jobs[job.Name()]
		if !ok {
			jobCfg = a.cfg.Scheduler.Jobs[phase]
		}
		cron := jobCfg.Cron
		if cron == "" {
			cron = scheduler.DefaultJobConfigs[phase].Cron
		}
		if err := a.scheduler.RegisterJob(job, scheduler.JobConfig{
			Cron:    cron,
			Enabled: !jobCfg.Disabled,
		}); err != nil {
			logger.Error("failed to register job",
				zap.String("job", job.Name()),
				zap.Error(err))
		}
	}

	for i := range a.cfg.Chains {
		chainCfg := &a.cfg.Chains[i]
		code := chainCfg.Code

		register(scheduler.JobNameDepositScan, jobs.NewDepositScanJob(code, a.scannerSvc))
		register(scheduler.JobNameDepositConfirm, jobs.NewDepositConfirmJob(code, a.confirmSvc))
		register(scheduler.JobNameWithdrawReconcile, jobs.NewWithdrawReconcileJob(code, a.withdrawSvc))

		// 归集与提现广播只在配置了对应钱包的链上开启
		if chainCfg.TreasuryAddress != "" {
			register(scheduler.JobNameCollectionSweep, jobs.NewCollectionSweepJob(code, a.collectSvc))
		}
		if chainCfg.HotWalletAddress != "" {
			register(scheduler.JobNameWithdrawProcess, jobs.NewWithdrawProcessJob(code, a.withdrawSvc))
		}
	}

	logger.Info("jobs registered", zap.Int("chains", len(a.cfg.Chains)))
}

// startGRPC 启动 gRPC 服务 (健康检查)
func (a *App) startGRPC() error {
	addr := fmt.Sprintf(":%d", a.cfg.Service.GRPCPort)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	logger.Info("starting gRPC server", zap.String("addr", addr))

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	return nil
}

// startHTTP 启动 HTTP 服务 (metrics + health)
func (a *App) startHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("redis unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()
}

// AddressService 返回地址服务 (供接入层使用)
func (a *App) AddressService() *service.AddressService {
	return a.addressSvc
}

// WithdrawService 返回提现服务 (供接入层使用)
func (a *App) WithdrawService() *service.WithdrawService {
	return a.withdrawSvc
}
