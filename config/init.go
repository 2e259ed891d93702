package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"

	"gorvnbridge/types"
)

const DEFAULT_CONFIG_FILE = "config.yml"

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		// the file is optional, environment alone is enough
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	// .env is a convenience for local runs, silently ignored when missing
	_ = godotenv.Load()

	return envconfig.Process("", cfg)
}

// Load layers defaults, the yaml file at path and the environment, then validates.
func Load(path string) (*Configuration, error) {
	cfg := Defaults()

	if err := readFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := readEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything the pipeline cannot start without.
// Missing payout credentials are not an error here, see PayoutEnabled.
func (c *Configuration) Validate() error {
	var errs []error

	if c.RVN.BridgeAddress == "" {
		errs = append(errs, errors.New("RAVENCOIN_BRIDGE_ADDRESS is required"))
	}
	if c.RVN.ScanCount <= 0 {
		errs = append(errs, errors.New("RAVENCOIN_SCAN_COUNT must be positive"))
	}
	if c.RVN.Timeout <= 0 {
		errs = append(errs, errors.New("RAVENCOIN_RPC_TIMEOUT must be positive"))
	}
	if c.EVM.NodeURL == "" {
		errs = append(errs, errors.New("ETHEREUM_NODE_URL is required"))
	}
	if c.EVM.Timeout <= 0 {
		errs = append(errs, errors.New("ETHEREUM_RPC_TIMEOUT must be positive"))
	}
	if c.EVM.GasLimit == 0 || c.EVM.GasPriceGwei <= 0 {
		errs = append(errs, errors.New("gas limit and gas price must be positive"))
	}
	if c.Bridge.PublicAddress != "" && !common.IsHexAddress(c.Bridge.PublicAddress) {
		errs = append(errs, fmt.Errorf("BRIDGE_ETHEREUM_ADDRESS %q is not a valid address", c.Bridge.PublicAddress))
	}
	if c.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.Storage.QueueURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if _, err := c.Rate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MinDepositAmount(); err != nil {
		errs = append(errs, err)
	}
	if c.Exchange.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Queue.Concurrency <= 0 || c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY and QUEUE_MAX_ATTEMPTS must be positive"))
	}
	if c.Queue.Backoff <= 0 || c.Queue.MaxBackoff < c.Queue.Backoff {
		errs = append(errs, errors.New("QUEUE_BACKOFF must be positive and not above QUEUE_MAX_BACKOFF"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Configuration) Rate() (types.Rate, error) {
	return types.NewRate(c.Exchange.RateNumerator, c.Exchange.RateDenominator)
}

func (c *Configuration) MinDepositAmount() (decimal.Decimal, error) {
	minAmount, err := decimal.NewFromString(c.Exchange.MinDeposit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid MIN_DEPOSIT_AMOUNT %q: %w", c.Exchange.MinDeposit, err)
	}
	if minAmount.IsNegative() {
		return decimal.Zero, errors.New("MIN_DEPOSIT_AMOUNT cannot be negative")
	}
	return minAmount, nil
}

// PayoutEnabled reports whether signing credentials are present at all.
func (c *Configuration) PayoutEnabled() bool {
	if c.Bridge.PublicAddress == "" {
		return false
	}
	return c.Bridge.PrivateKey != "" || c.Bridge.KeystorePath != ""
}

// NodeURLs splits ETHEREUM_NODE_URL into the failover list.
func (c *Configuration) NodeURLs() []string {
	var urls []string
	for _, u := range strings.Split(c.EVM.NodeURL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (c *Configuration) RVNEndpoint() string {
	return fmt.Sprintf("http://%s:%d/", c.RVN.Host, c.RVN.Port)
}
