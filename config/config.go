package config

import (
	"time"
)

type Configuration struct {
	// Server config
	Server struct {
		Port     int    `yaml:"port" envconfig:"PORT"`
		LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
		LogFile  string `yaml:"log_file" envconfig:"LOG_FILE"`
	} `yaml:"server"`
	// storage and queue backends
	Storage struct {
		// redis:// keeps everything in Redis, postgres:// moves ledger and directory to Postgres
		DatabaseURL string `yaml:"database_url" envconfig:"DATABASE_URL"`
		QueueURL    string `yaml:"queue_url" envconfig:"REDIS_URL"`
		NATSURL     string `yaml:"nats_url" envconfig:"NATS_URL"`
		// bound on every ledger, directory and journal call
		Timeout time.Duration `yaml:"timeout" envconfig:"STORE_TIMEOUT"`
	} `yaml:"storage"`
	// RVN-related config
	RVN struct {
		Host    string        `yaml:"host" envconfig:"RPC_HOST"`
		Port    int           `yaml:"port" envconfig:"RPC_PORT"`
		Timeout time.Duration `yaml:"timeout" envconfig:"RPC_TIMEOUT"`
		// important private stuff
		RPCUser     string `yaml:"rpc_user" envconfig:"RPC_USER"`
		RPCPassword string `yaml:"rpc_pass" envconfig:"RPC_PASSWORD"`
		// custodial deposit address
		BridgeAddress string `yaml:"bridge_address" envconfig:"BRIDGE_ADDRESS"`
		ScanCount     int    `yaml:"scan_count" envconfig:"SCAN_COUNT"`
	} `yaml:"RVN" envconfig:"RAVENCOIN"`
	// EVM-related config
	EVM struct {
		NodeURL      string        `yaml:"node_url" envconfig:"NODE_URL"`
		ChainID      int64         `yaml:"chain_id" envconfig:"CHAIN_ID"`
		GasLimit     uint64        `yaml:"gas_limit" envconfig:"GAS_LIMIT"`
		GasPriceGwei int64         `yaml:"gas_price_gwei" envconfig:"GAS_PRICE_GWEI"`
		Timeout      time.Duration `yaml:"timeout" envconfig:"RPC_TIMEOUT"`
	} `yaml:"EVM" envconfig:"ETHEREUM"`
	// custodial payout account
	Bridge struct {
		PublicAddress    string `yaml:"address" envconfig:"ETHEREUM_ADDRESS"`
		PrivateKey       string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
		KeystorePath     string `yaml:"keystore_path" envconfig:"KEYSTORE_PATH"`
		KeystorePassword string `yaml:"keystore_password" envconfig:"KEYSTORE_PASSWORD"`
	} `yaml:"bridge" envconfig:"BRIDGE"`
	Exchange struct {
		RateNumerator   string        `yaml:"rate_numerator" envconfig:"RATE_NUMERATOR"`
		RateDenominator string        `yaml:"rate_denominator" envconfig:"RATE_DENOMINATOR"`
		MinDeposit      string        `yaml:"min_deposit" envconfig:"MIN_DEPOSIT_AMOUNT"`
		PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	} `yaml:"exchange"`
	Queue struct {
		Concurrency  int           `yaml:"concurrency" envconfig:"WORKER_CONCURRENCY"`
		MaxAttempts  int           `yaml:"max_attempts" envconfig:"QUEUE_MAX_ATTEMPTS"`
		Backoff      time.Duration `yaml:"backoff" envconfig:"QUEUE_BACKOFF"`
		MaxBackoff   time.Duration `yaml:"max_backoff" envconfig:"QUEUE_MAX_BACKOFF"`
		PollInterval time.Duration `yaml:"poll_interval" envconfig:"QUEUE_POLL_INTERVAL"`
	} `yaml:"queue"`
}

// listtransactions page size used by the monitor
const DEFAULT_SCAN_COUNT = 100

// plain ETH transfer
const DEFAULT_GAS_LIMIT = 21000

// redis key names, collections keep the persisted layout of earlier bridge versions
const (
	REDIS_USERS_PREFIX     = "users:"
	REDIS_PROCESSED_PREFIX = "processedTxs:"
	REDIS_ATTEMPTS_PREFIX  = "payoutAttempts:"
)

// Defaults returns a configuration with every optional value filled in.
func Defaults() Configuration {
	var cfg Configuration

	cfg.Server.Port = 3000
	cfg.Server.LogLevel = "info"

	cfg.Storage.DatabaseURL = "redis://127.0.0.1:6379/0"
	cfg.Storage.QueueURL = "redis://127.0.0.1:6379/0"
	cfg.Storage.Timeout = 5 * time.Second

	cfg.RVN.Host = "localhost"
	cfg.RVN.Port = 8766
	cfg.RVN.Timeout = 15 * time.Second
	cfg.RVN.ScanCount = DEFAULT_SCAN_COUNT

	cfg.EVM.GasLimit = DEFAULT_GAS_LIMIT
	cfg.EVM.GasPriceGwei = 20
	cfg.EVM.Timeout = 20 * time.Second

	// 1200 RVN = 100 ETH
	cfg.Exchange.RateNumerator = "100"
	cfg.Exchange.RateDenominator = "1200"
	cfg.Exchange.MinDeposit = "100"
	cfg.Exchange.PollInterval = 60 * time.Second

	cfg.Queue.Concurrency = 4
	cfg.Queue.MaxAttempts = 5
	cfg.Queue.Backoff = 10 * time.Second
	cfg.Queue.MaxBackoff = 10 * time.Minute
	cfg.Queue.PollInterval = time.Second

	return cfg
}
