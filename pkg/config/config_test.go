package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"dexchaind/internal/testutil"
)

// chdirModuleRoot moves the working directory from pkg/config up to the
// module root, where the config/ directory Load expects to find lives.
func chdirModuleRoot(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir("../.."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
}

func TestLoadDefault(t *testing.T) {
	chdirModuleRoot(t)
	viper.Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ID != "dexchaind-mainnet" {
		t.Fatalf("unexpected network id: %s", cfg.Network.ID)
	}
	if cfg.Network.MaxPeers != 50 {
		t.Fatalf("expected default MaxPeers 50, got %d", cfg.Network.MaxPeers)
	}
	if cfg.Chain.BlockIntervalSec != 3 {
		t.Fatalf("expected default block interval 3, got %d", cfg.Chain.BlockIntervalSec)
	}
	if got := cfg.BlockInterval().Seconds(); got != 3 {
		t.Fatalf("BlockInterval() = %v, want 3s", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdirModuleRoot(t)
	viper.Reset()

	cfg, err := Load("testnet")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ID != "dexchaind-testnet" {
		t.Fatalf("expected testnet override of network id, got %s", cfg.Network.ID)
	}
	if cfg.Network.MaxPeers != 25 {
		t.Fatalf("expected MaxPeers 25, got %d", cfg.Network.MaxPeers)
	}
	if cfg.Chain.BlockIntervalSec != 1 {
		t.Fatalf("expected overridden block interval 1, got %d", cfg.Chain.BlockIntervalSec)
	}
	// Values absent from testnet.yaml must still fall back to the default file.
	if cfg.RPC.ListenAddr != ":8090" {
		t.Fatalf("expected RPC listen addr to fall back to default, got %s", cfg.RPC.ListenAddr)
	}
}

func TestLoadFromEnvReadsEnvironmentVariable(t *testing.T) {
	chdirModuleRoot(t)
	viper.Reset()

	t.Setenv("DEXCHAIND_ENV", "testnet")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Network.ID != "dexchaind-testnet" {
		t.Fatalf("expected DEXCHAIND_ENV=testnet to select testnet overrides, got %s", cfg.Network.ID)
	}
}

func TestLoadSandboxedConfig(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0o700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	data := []byte("network:\n  id: sandbox-node\n  max_peers: 7\n")
	if err := sb.WriteFile("config/default.yaml", data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ID != "sandbox-node" {
		t.Fatalf("expected network id sandbox-node, got %s", cfg.Network.ID)
	}
	if cfg.Network.MaxPeers != 7 {
		t.Fatalf("expected MaxPeers 7, got %d", cfg.Network.MaxPeers)
	}
}
