// Package config loads the broker's process-wide and per-chain configuration
// from a YAML file with ${VAR}/${VAR:-default} environment-variable
// substitution, following certenIO-certen-validator/pkg/config's
// LoadAnchorConfig pattern.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level broker configuration document (§6.5).
type Config struct {
	Environment string `yaml:"environment"`

	Engine     EngineConfig            `yaml:"engine"`
	Recovery   RecoveryConfig          `yaml:"recovery"`
	Commission CommissionConfig        `yaml:"commission"`
	Store      StoreConfig             `yaml:"store"`
	Metrics    MetricsConfig           `yaml:"metrics"`
	Chains     map[string]*ChainConfig `yaml:"chains"`

	// MasterSeedHex is the hex-encoded BIP32 master seed used by keymanager
	// to derive every escrow address. Process-wide, never per-chain.
	MasterSeedHex string `yaml:"master_seed_hex"`

	// OperatorSigningKeyHex is the operator's broker-contract settlement
	// signing key (§6.2), hex-encoded, secp256k1.
	OperatorSigningKeyHex string `yaml:"operator_signing_key_hex"`
}

// EngineConfig governs the deal-processing tick (§4).
type EngineConfig struct {
	TickInterval   Duration `yaml:"tick_interval"`
	NodeID         string   `yaml:"node_id"`
	DefaultTimeout Duration `yaml:"default_timeout"`
}

// RecoveryConfig governs the recovery tick (§4.6).
type RecoveryConfig struct {
	TickInterval            Duration `yaml:"tick_interval"`
	StuckPendingThreshold   Duration `yaml:"stuck_pending_threshold"`
	StuckSubmittedThreshold Duration `yaml:"stuck_submitted_threshold"`
	MaxRetryAttempts        int      `yaml:"max_retry_attempts"`
	TankLowBalanceCooldown  Duration `yaml:"tank_low_balance_cooldown"`
}

// CommissionConfig governs broker commission policy (§4.3/§9b).
type CommissionConfig struct {
	KnownAssetBps  int64   `yaml:"known_asset_bps"`
	FixedUSDRate   float64 `yaml:"fixed_usd_rate"`
	OracleTablePath string `yaml:"oracle_table_path"`
}

// StoreConfig selects and configures the durable store backend (§6.4).
type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite3"
	DSN    string `yaml:"dsn"`
}

// MetricsConfig controls the obsmetrics HTTP exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ChainConfig is per-chain configuration (§6.5).
type ChainConfig struct {
	ChainID                   uint64   `yaml:"chain_id"`
	Kind                      string   `yaml:"kind"` // "utxo" or "evm"
	RPCURL                    string   `yaml:"rpc_url"`
	ConfirmationThreshold     int      `yaml:"confirmation_threshold"`
	CollectionThreshold       int      `yaml:"collection_threshold"`
	OperatorAddress           string   `yaml:"operator_address"`
	BrokerContractAddress     string   `yaml:"broker_contract_address"`
	BlockExplorerAPIKey       string   `yaml:"block_explorer_api_key"`
	GasFundingAmount          string   `yaml:"gas_funding_amount"`
	LowTankThreshold          string   `yaml:"low_tank_threshold"`
	UTXONetwork               string   `yaml:"utxo_network"` // "mainnet", "testnet3", "regtest" (UTXO chains only)
	EVMChainID                int64    `yaml:"evm_chain_id"` // EIP-155 chain id (EVM chains only)

	// Provider selects the chainadapter/provider.BlockchainProvider backing
	// this chain's data queries (balances, gas estimation, tx broadcast).
	Provider          string   `yaml:"provider"`            // "alchemy", ...
	ProviderChainID   string   `yaml:"provider_chain_id"`    // the provider's own chain name, e.g. "ethereum", "bitcoin"
	ProviderAPIKey    string   `yaml:"provider_api_key"`
	ProviderNetworkID string   `yaml:"provider_network_id"` // e.g. "mainnet", "sepolia"
	RPCEndpoints      []string `yaml:"rpc_endpoints"`       // falls back to []string{RPCURL} if empty
	RPCTimeout        Duration `yaml:"rpc_timeout"`
}

// Duration wraps time.Duration for human-readable YAML values ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Get returns the underlying time.Duration.
func (d Duration) Get() time.Duration { return time.Duration(d) }

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads path, substitutes ${VAR}/${VAR:-default} environment
// references, parses the result as YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = Duration(30 * time.Second)
	}
	if c.Engine.NodeID == "" {
		c.Engine.NodeID = "brokerd"
	}
	if c.Recovery.TickInterval == 0 {
		c.Recovery.TickInterval = Duration(5 * time.Minute)
	}
	if c.Recovery.StuckPendingThreshold == 0 {
		c.Recovery.StuckPendingThreshold = Duration(5 * time.Minute)
	}
	if c.Recovery.StuckSubmittedThreshold == 0 {
		c.Recovery.StuckSubmittedThreshold = Duration(10 * time.Minute)
	}
	if c.Recovery.MaxRetryAttempts == 0 {
		c.Recovery.MaxRetryAttempts = 3
	}
	if c.Recovery.TankLowBalanceCooldown == 0 {
		c.Recovery.TankLowBalanceCooldown = Duration(time.Hour)
	}
	if c.Commission.KnownAssetBps == 0 {
		c.Commission.KnownAssetBps = 30
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate enforces the invariants Load relies on and that the engine
// assumes are already true by the time it reads Config.
func (c *Config) Validate() error {
	var errs []string

	if c.MasterSeedHex == "" {
		errs = append(errs, "master_seed_hex is required")
	}
	if c.OperatorSigningKeyHex == "" {
		errs = append(errs, "operator_signing_key_hex is required")
	}
	if len(c.Chains) == 0 {
		errs = append(errs, "at least one chain must be configured")
	}
	if c.Recovery.MaxRetryAttempts < 1 || c.Recovery.MaxRetryAttempts > 10 {
		errs = append(errs, "recovery.max_retry_attempts must be in [1,10]")
	}
	if c.Commission.KnownAssetBps < 0 {
		errs = append(errs, "commission.known_asset_bps must be non-negative")
	}

	for name, cc := range c.Chains {
		if cc.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("chains.%s.rpc_url is required", name))
		}
		if cc.Kind != "utxo" && cc.Kind != "evm" {
			errs = append(errs, fmt.Sprintf("chains.%s.kind must be \"utxo\" or \"evm\"", name))
		}
		if cc.ConfirmationThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s.confirmation_threshold must be positive", name))
		}
		if cc.CollectionThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s.collection_threshold must be positive", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
