// Package config loads the repeater's settings from the environment.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Chain holds the protocol contract addresses of one network.
type Chain struct {
	Name       string
	MarketData common.Address
	SUSD       common.Address
	Factory    common.Address
}

// Chains is the address book of supported networks, keyed by chain id.
var Chains = map[int64]Chain{
	10: {
		Name:       "optimism",
		MarketData: common.HexToAddress("0x340B5d664834113735730Ad4aFb3760219Ad9112"),
		SUSD:       common.HexToAddress("0x57ab1ec28d129707052df4df418d58a2d46d5f51"),
		Factory:    common.HexToAddress("0x8234F990b149Ae59416dc260305E565e5DAfEb54"),
	},
	420: {
		Name:       "optimism-goerli",
		MarketData: common.HexToAddress("0xcE2dC389fc8Be231beECED1D900881e38596d7b2"),
		SUSD:       common.HexToAddress("0xebaeaad9236615542844adc5c149f86c36ad1136"),
	},
}

type Config struct {
	ChainID         int64          `json:"chain_id"`
	RPCURL          string         `json:"rpc_url"`
	PrivateKeyHex   string         `json:"private_key_hex"`
	TargetWallet    common.Address `json:"target_wallet"`
	RepeaterAccount common.Address `json:"repeater_account"`
	Factory         common.Address `json:"factory"`

	PollInterval   time.Duration `json:"poll_interval"`
	StartBlock     uint64        `json:"start_block"`
	SubmitTimeout  time.Duration `json:"submit_timeout"`
	MinMargin      *big.Int      `json:"min_margin"`
	MarketCacheTTL time.Duration `json:"market_cache_ttl"`

	IncludeOwnerBalance bool    `json:"include_owner_balance"`
	RPCBatchSize        int     `json:"rpc_batch_size"`
	RPCRateLimit        float64 `json:"rpc_rate_limit"`

	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"`
	DryRun      bool   `json:"dry_run"`
}

// DefaultConfig targets Optimism mainnet.
func DefaultConfig() *Config {
	return &Config{
		ChainID:        10,
		RPCURL:         "https://mainnet.optimism.io",
		PollInterval:   1500 * time.Millisecond,
		SubmitTimeout:  2 * time.Minute,
		MinMargin:      decimal.NewFromInt(50).Shift(18).BigInt(),
		MarketCacheTTL: time.Hour,
		RPCBatchSize:   100,
		RPCRateLimit:   20,
		LogLevel:       "info",
	}
}

// Chain returns the address book entry for the configured chain.
func (c *Config) Chain() (Chain, error) {
	chain, ok := Chains[c.ChainID]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain id %d", c.ChainID)
	}
	return chain, nil
}

// FactoryAddress is the configured factory, or the chain's default one.
func (c *Config) FactoryAddress() common.Address {
	if c.Factory != (common.Address{}) {
		return c.Factory
	}
	return Chains[c.ChainID].Factory
}

// LoadFromEnv reads environment variables over the defaults. Malformed
// values are reported instead of ignored.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	var errs []string
	bad := func(name string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}

	if v := env("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			bad("CHAIN_ID", err)
		}
		config.ChainID = id
	}
	if v := env("JSON_RPC_URL"); v != "" {
		config.RPCURL = v
	}
	config.PrivateKeyHex = env("EXECUTOR_PRIVATE_KEY")

	addresses := []struct {
		name string
		dst  *common.Address
	}{
		{"TARGET_WALLET", &config.TargetWallet},
		{"REPEATER_ACCOUNT", &config.RepeaterAccount},
		{"SMART_MARGIN_FACTORY", &config.Factory},
	}
	for _, a := range addresses {
		v := env(a.name)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			bad(a.name, fmt.Errorf("invalid address %q", v))
			continue
		}
		*a.dst = common.HexToAddress(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"POLL_INTERVAL", &config.PollInterval},
		{"SUBMIT_TIMEOUT", &config.SubmitTimeout},
		{"MARKET_CACHE_TTL", &config.MarketCacheTTL},
	}
	for _, d := range durations {
		if v := env(d.name); v != "" {
			val, err := time.ParseDuration(v)
			if err != nil {
				bad(d.name, err)
				continue
			}
			*d.dst = val
		}
	}

	if v := env("START_BLOCK"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			bad("START_BLOCK", err)
		}
		config.StartBlock = n
	}
	if v := env("MIN_MARGIN"); v != "" {
		m, err := decimal.NewFromString(v)
		if err != nil {
			bad("MIN_MARGIN", err)
		} else {
			config.MinMargin = m.Shift(18).BigInt()
		}
	}
	if v := env("RPC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			bad("RPC_BATCH_SIZE", err)
		}
		config.RPCBatchSize = n
	}
	if v := env("RPC_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad("RPC_RATE_LIMIT", err)
		}
		config.RPCRateLimit = f
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"INCLUDE_OWNER_BALANCE", &config.IncludeOwnerBalance},
		{"DRY_RUN", &config.DryRun},
	}
	for _, f := range flags {
		if v := env(f.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				bad(f.name, err)
				continue
			}
			*f.dst = b
		}
	}

	if v := env("METRICS_ADDR"); v != "" {
		config.MetricsAddr = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		config.LogLevel = strings.ToLower(v)
	}
	if v := env("LOG_FILE"); v != "" {
		config.LogFile = v
	}

	if len(errs) > 0 {
		return config, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return config, nil
}

// Validate checks that the configuration can run the repeater.
func (c *Config) Validate() error {
	if _, err := c.Chain(); err != nil {
		return err
	}
	if c.RPCURL == "" {
		return fmt.Errorf("JSON_RPC_URL is required")
	}
	if c.PrivateKeyHex == "" {
		return fmt.Errorf("EXECUTOR_PRIVATE_KEY is required")
	}
	if c.TargetWallet == (common.Address{}) {
		return fmt.Errorf("TARGET_WALLET is required")
	}
	if c.RepeaterAccount == (common.Address{}) {
		return fmt.Errorf("REPEATER_ACCOUNT is required")
	}
	if c.FactoryAddress() == (common.Address{}) {
		return fmt.Errorf("SMART_MARGIN_FACTORY is required on chain %d", c.ChainID)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.MinMargin == nil || c.MinMargin.Sign() < 0 {
		return fmt.Errorf("MIN_MARGIN must not be negative")
	}
	if c.RPCBatchSize <= 0 {
		return fmt.Errorf("RPC_BATCH_SIZE must be positive")
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("RPC_RATE_LIMIT must not be negative")
	}
	return nil
}

// env reads a variable, trimming spaces and surrounding quotes.
func env(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	v = strings.Trim(v, "\"")
	v = strings.Trim(v, "'")
	return v
}
