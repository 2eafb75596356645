package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service   ServiceConfig   `yaml:"service" json:"service"`
	Postgres  PostgresConfig  `yaml:"postgres" json:"postgres"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	Vault     VaultConfig     `yaml:"vault" json:"vault"`
	Scanner   ScannerConfig   `yaml:"scanner" json:"scanner"`
	Confirm   ConfirmConfig   `yaml:"confirm" json:"confirm"`
	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Withdraw  WithdrawConfig  `yaml:"withdraw" json:"withdraw"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Chains    []ChainConfig   `yaml:"chains" json:"chains"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // 秒
}

// DSN 返回 PostgreSQL 连接串
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Brokers  []string `yaml:"brokers" json:"brokers"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// VaultConfig 私钥保管配置
type VaultConfig struct {
	// MasterSecret 主密钥，生产环境通过环境变量注入
	MasterSecret string `yaml:"master_secret" json:"-"`
}

// ScannerConfig 扫块配置
type ScannerConfig struct {
	BatchSize int64 `yaml:"batch_size" json:"batch_size"`
}

// ConfirmConfig 充值确认配置
type ConfirmConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// CollectorConfig 归集配置
type CollectorConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	AwaitTimeoutSec int `yaml:"await_timeout_sec" json:"await_timeout_sec"`
}

// WithdrawConfig 提现配置
type WithdrawConfig struct {
	BatchSize       int `yaml:"batch_size" json:"batch_size"`
	PollIntervalSec int `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	AwaitTimeoutSec int `yaml:"await_timeout_sec" json:"await_timeout_sec"`
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	MaxConcurrentJobs int                  `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	Jobs              map[string]JobConfig `yaml:"jobs" json:"jobs"`
}

// JobConfig 单任务调度配置
// Cron 为空时使用任务默认表达式
type JobConfig struct {
	Cron     string `yaml:"cron" json:"cron"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// ChainConfig 单链配置
// 确认数与代币目录存放在数据库，这里只配接入方式与托管钱包
type ChainConfig struct {
	Code    string   `yaml:"code" json:"code"`
	Kind    string   `yaml:"kind" json:"kind"` // account | resource
	ChainID int64    `yaml:"chain_id" json:"chain_id"`
	RPCURLs []string `yaml:"rpc_urls" json:"rpc_urls"`

	MaxRetries      int `yaml:"max_retries" json:"max_retries"`
	RetryIntervalMs int `yaml:"retry_interval_ms" json:"retry_interval_ms"`
	HTTPTimeoutSec  int `yaml:"http_timeout_sec" json:"http_timeout_sec"`

	TreasuryAddress  string `yaml:"treasury_address" json:"treasury_address"`
	FundingAddress   string `yaml:"funding_address" json:"funding_address"`
	FundingKeyID     string `yaml:"funding_key_id" json:"funding_key_id"`
	HotWalletAddress string `yaml:"hot_wallet_address" json:"hot_wallet_address"`
	HotWalletKeyID   string `yaml:"hot_wallet_key_id" json:"hot_wallet_key_id"`
}

// 链接入方式
const (
	ChainKindAccount  = "account"  // 账户模型 (ETH 及兼容链)
	ChainKindResource = "resource" // 资源计费模型 (TRON)
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func (cfg *Config) setDefaults() {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "aether-custody"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50057
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8087
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "aether-custody"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "aether-custody"
	}

	if cfg.Scanner.BatchSize == 0 {
		cfg.Scanner.BatchSize = 20
	}
	if cfg.Confirm.BatchSize == 0 {
		cfg.Confirm.BatchSize = 100
	}

	if cfg.Collector.PollIntervalSec == 0 {
		cfg.Collector.PollIntervalSec = 5
	}
	if cfg.Collector.AwaitTimeoutSec == 0 {
		cfg.Collector.AwaitTimeoutSec = 180
	}

	if cfg.Withdraw.BatchSize == 0 {
		cfg.Withdraw.BatchSize = 50
	}
	if cfg.Withdraw.PollIntervalSec == 0 {
		cfg.Withdraw.PollIntervalSec = 5
	}
	if cfg.Withdraw.AwaitTimeoutSec == 0 {
		cfg.Withdraw.AwaitTimeoutSec = 180
	}

	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 4
	}

	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		if chain.Kind == "" {
			chain.Kind = ChainKindAccount
		}
		if chain.MaxRetries == 0 {
			chain.MaxRetries = 3
		}
		if chain.RetryIntervalMs == 0 {
			chain.RetryIntervalMs = 500
		}
		if chain.HTTPTimeoutSec == 0 {
			chain.HTTPTimeoutSec = 10
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// validate 校验必填项
func (cfg *Config) validate() error {
	if cfg.Vault.MasterSecret == "" {
		return fmt.Errorf("vault.master_secret is required")
	}
	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		if chain.Code == "" {
			return fmt.Errorf("chains[%d].code is required", i)
		}
		if len(chain.RPCURLs) == 0 {
			return fmt.Errorf("chain %s: rpc_urls is required", chain.Code)
		}
		if chain.Kind != ChainKindAccount && chain.Kind != ChainKindResource {
			return fmt.Errorf("chain %s: unknown kind %q", chain.Code, chain.Kind)
		}
	}
	return nil
}
