package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
)

// Config 描述金库守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Audit     AuditConfig     `json:"audit"`
	Policy    PolicyConfig    `json:"policy"`
	Escrow    EscrowConfig    `json:"escrow"`
	Paymaster PaymasterConfig `json:"paymaster"`
	Web3      Web3Config      `json:"web3"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// AlertingConfig 配置除日志外的额外告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 决定 API 层如何识别调用方身份。
type AuthConfig struct {
	Mode    string         `json:"mode"`
	APIKeys []APIKeyConfig `json:"api_keys"`
}

// APIKeyConfig 将一个密钥绑定到具体的操作者地址。
type APIKeyConfig struct {
	Key   string `json:"key"`
	Actor string `json:"actor"`
	Label string `json:"label"`
}

// StorageConfig 统一描述主体与托管单存储后端的连接信息。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `json:"conn_max_lifetime_minutes"`
	ConnMaxIdleMinutes     int    `json:"conn_max_idle_minutes"`
}

// AuditConfig 选择审计事件的投递后端。
type AuditConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisAuditConfig    `json:"redis"`
	RabbitMQ RabbitMQAuditConfig `json:"rabbitmq"`
}

// RedisAuditConfig 描述审计事件写入的 Redis 实例。
type RedisAuditConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
}

// RabbitMQAuditConfig 描述审计事件发布的 RabbitMQ 队列。
type RabbitMQAuditConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// PolicyConfig 放置策略引擎的时效参数。
type PolicyConfig struct {
	MaxHoldHours      int `json:"max_hold_hours"`
	RoleTimelockHours int `json:"role_timelock_hours"`
}

// EscrowConfig 放置托管引擎的费率与裁决参数。
type EscrowConfig struct {
	FeeBps          int64  `json:"fee_bps"`
	FeeRecipient    string `json:"fee_recipient"`
	Arbiter         string `json:"arbiter"`
	MinAmount       string `json:"min_amount"`
	MaxDeadlineDays int    `json:"max_deadline_days"`
}

// PaymasterConfig 控制 gas 代付守卫。
type PaymasterConfig struct {
	Enabled   bool     `json:"enabled"`
	Authority string   `json:"authority"`
	DailyCap  string   `json:"daily_cap"`
	Allowlist []string `json:"allowlist"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与链清单。
type Web3Config struct {
	Enabled      bool   `json:"enabled"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	BlockClock   bool   `json:"block_clock"`
}

// LoggingConfig 控制结构化日志与审计日志的输出方式。
type LoggingConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditLogPath string   `json:"audit_log_path"`
}

// MetricsConfig 控制 Prometheus 文本格式指标端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// validate 拦截解析通过但语义不合法的配置。
func (c *Config) validate() error {
	if c.Escrow.MinAmount != "" {
		if _, ok := new(big.Int).SetString(c.Escrow.MinAmount, 10); !ok {
			return fmt.Errorf("escrow.min_amount 不是合法的十进制整数: %s", c.Escrow.MinAmount)
		}
	}
	if c.Paymaster.Enabled {
		if c.Paymaster.Authority == "" {
			return errors.New("启用 paymaster 时必须配置 authority")
		}
		if c.Paymaster.DailyCap != "" {
			if _, ok := new(big.Int).SetString(c.Paymaster.DailyCap, 10); !ok {
				return fmt.Errorf("paymaster.daily_cap 不是合法的十进制整数: %s", c.Paymaster.DailyCap)
			}
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Audit.Driver == "" {
		c.Audit.Driver = "memory"
	}
	if c.Audit.Redis.Stream == "" {
		c.Audit.Redis.Stream = "vault:audit"
	}
	if c.Audit.RabbitMQ.Queue == "" {
		c.Audit.RabbitMQ.Queue = "vault.audit"
	}

	if c.Escrow.FeeRecipient == "" {
		c.Escrow.FeeRecipient = "fees"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9102"
	}
}

// EscrowMinAmount 将配置的最低托管金额转换为大整数，未配置时返回 nil。
func (c *Config) EscrowMinAmount() *big.Int {
	if c.Escrow.MinAmount == "" {
		return nil
	}
	value, _ := new(big.Int).SetString(c.Escrow.MinAmount, 10)
	return value
}

// PaymasterDailyCap 将配置的日代付上限转换为大整数，未配置时返回 nil。
func (c *Config) PaymasterDailyCap() *big.Int {
	if c.Paymaster.DailyCap == "" {
		return nil
	}
	value, _ := new(big.Int).SetString(c.Paymaster.DailyCap, 10)
	return value
}
