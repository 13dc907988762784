package config

// Package config provides a reusable loader for dexchaind configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"dexchaind/pkg/errs"
	"dexchaind/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a dexchaind node. It
// mirrors the structure of the YAML files under config/.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        string   `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Chain struct {
		BlockIntervalSec        int `mapstructure:"block_interval_sec" json:"block_interval_sec"`
		MaintenanceIntervalSec  int `mapstructure:"maintenance_interval_sec" json:"maintenance_interval_sec"`
		MaxBlockSize            int `mapstructure:"max_block_size" json:"max_block_size"`
		MaxTimeUntilExpirationS int `mapstructure:"max_time_until_expiration_sec" json:"max_time_until_expiration_sec"`
		MinWitnessCount         int `mapstructure:"min_witness_count" json:"min_witness_count"`
		MinCommitteeCount       int `mapstructure:"min_committee_count" json:"min_committee_count"`
	} `mapstructure:"chain" json:"chain"`

	Fees struct {
		ScheduleFile string `mapstructure:"schedule_file" json:"schedule_file"`
	} `mapstructure:"fees" json:"fees"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Witness struct {
		Enabled       bool   `mapstructure:"enabled" json:"enabled"`
		ID            string `mapstructure:"id" json:"id"`
		SigningKeyHex string `mapstructure:"signing_key_hex" json:"signing_key_hex"`
	} `mapstructure:"witness" json:"witness"`

	RPC struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"rpc" json:"rpc"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// BlockInterval returns the configured block production cadence.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.Chain.BlockIntervalSec) * time.Second
}

// MaintenanceInterval returns the configured maintenance epoch length.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Chain.MaintenanceIntervalSec) * time.Second
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, errs.Wrap(errs.KindStructural, err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, errs.Wrap(errs.KindStructural, err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up overrides from env vars named after the upper-cased keys (no prefix)

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, errs.Wrap(errs.KindStructural, err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the DEXCHAIND_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("DEXCHAIND_ENV", ""))
}
