// Command dexchaind is the node binary: it wires pkg/config,
// internal/genesis, internal/chain, internal/rpcapi, internal/metrics, and
// internal/p2p into a running process, and exposes a small wallet-adjacent
// command group for local key management. Grounded on the teacher's
// cmd/synnergy/main.go (a bare cobra root with subcommand groups mounted
// directly on main) and cmd/cli/*.go's one-file-per-subsystem shape,
// generalized from mock/offline subcommands into real collaborator wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dexchaind/pkg/logging"
)

func main() {
	root := &cobra.Command{
		Use:   "dexchaind",
		Short: "dexchaind runs or inspects a decentralized exchange chain node",
	}
	root.PersistentFlags().String("env", "", "configuration environment (e.g. testnet); empty selects default.yaml")

	root.AddCommand(newStartCmd())
	root.AddCommand(newWalletCmd())

	if err := root.Execute(); err != nil {
		logging.Logger.WithError(err).Error("dexchaind exited with error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
