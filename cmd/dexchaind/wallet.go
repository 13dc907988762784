package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"dexchaind/internal/walletsvc"
)

// newWalletCmd mounts the local key-management command group, grounded on
// the teacher's cmd/cli/*.go one-subsystem-per-file shape (e.g. amm.go's
// AMMCmd), but thin: cmd/dexchaind only needs wallet creation/derivation
// for genesis setup and witness self-signing, not a full wallet server
// (spec.md §1 names the CLI wallet as an out-of-scope external collaborator).
func newWalletCmd() *cobra.Command {
	root := &cobra.Command{Use: "wallet", Short: "local HD wallet key management"}
	root.AddCommand(newWalletCreateCmd())
	root.AddCommand(newWalletAddressCmd())
	return root
}

func newWalletCreateCmd() *cobra.Command {
	var entropyBits int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "generate a new HD wallet and print its recovery mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := walletsvc.NewService()
			w, mnemonic, err := svc.CreateWallet(entropyBits)
			if err != nil {
				return err
			}
			defer walletsvc.Wipe(w.Seed())
			addr, err := svc.DeriveAddress(w, 0, 0)
			if err != nil {
				return err
			}
			fmt.Printf("mnemonic: %s\n", mnemonic)
			fmt.Printf("address (account 0, index 0): %s\n", hex.EncodeToString(addr[:]))
			return nil
		},
	}
	cmd.Flags().IntVar(&entropyBits, "entropy-bits", 256, "mnemonic entropy, 128 or 256 bits")
	return cmd
}

func newWalletAddressCmd() *cobra.Command {
	var account, index uint32
	cmd := &cobra.Command{
		Use:   "address [mnemonic]",
		Short: "derive an address from an existing mnemonic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := walletsvc.NewService()
			w, err := svc.ImportWallet(args[0], "")
			if err != nil {
				return err
			}
			defer walletsvc.Wipe(w.Seed())
			addr, err := svc.DeriveAddress(w, account, index)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(addr[:]))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&account, "account", 0, "hardened account index")
	cmd.Flags().Uint32Var(&index, "index", 0, "hardened address index")
	return cmd
}
