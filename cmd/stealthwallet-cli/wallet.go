package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ScopeLift/umbra-v2-experimental/internal/wallet"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage keystore wallets (no daemon needed)",
	}
	cmd.AddCommand(walletCreateCmd(), walletImportCmd(), walletListCmd(), walletInfoCmd(), walletDeleteCmd())
	return cmd
}

func openKeystore() (*wallet.Keystore, error) {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return ks, nil
}

// storeSeed encrypts seed under a new password and prints the wallet.
func storeSeed(name string, seed []byte, index uint32, verb string) error {
	defer clear(seed)

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	defer clear(password)

	ks, err := openKeystore()
	if err != nil {
		return err
	}
	info, err := ks.Create(name, seed, password, index, wallet.DefaultParams())
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	fmt.Printf("\nWallet %s: %s\n", verb, info.Name)
	fmt.Printf("Address: %s\n", info.Address.Hex())
	return nil
}

func walletCreateCmd() *cobra.Command {
	var (
		name  string
		index uint32
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a wallet from a new 24-word mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := wallet.GenerateMnemonic()
			if err != nil {
				return fmt.Errorf("generate mnemonic: %w", err)
			}

			fmt.Println("Mnemonic (write this down!):")
			fmt.Printf("  %s\n\n", mnemonic)

			seed, err := wallet.SeedFromMnemonic(mnemonic, "")
			if err != nil {
				return fmt.Errorf("derive seed: %w", err)
			}
			return storeSeed(name, seed, index, "created")
		},
	}
	cmd.Flags().StringVar(&name, "name", "default", "Wallet name")
	cmd.Flags().Uint32Var(&index, "account", 0, "BIP-44 account index")
	return cmd
}

func walletImportCmd() *cobra.Command {
	var (
		name     string
		mnemonic string
		index    uint32
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a BIP-39 mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wallet.ValidateMnemonic(mnemonic) {
				return wallet.ErrInvalidMnemonic
			}
			seed, err := wallet.SeedFromMnemonic(mnemonic, "")
			if err != nil {
				return fmt.Errorf("derive seed: %w", err)
			}
			return storeSeed(name, seed, index, "imported")
		},
	}
	cmd.Flags().StringVar(&name, "name", "default", "Wallet name")
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 mnemonic")
	cmd.Flags().Uint32Var(&index, "account", 0, "BIP-44 account index")
	cmd.MarkFlagRequired("mnemonic")
	return cmd
}

func walletListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keystore wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore()
			if err != nil {
				return err
			}
			names, err := ks.List()
			if err != nil {
				return fmt.Errorf("list wallets: %w", err)
			}
			if len(names) == 0 {
				fmt.Println("No wallets found.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func walletInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a wallet's address without unlocking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore()
			if err != nil {
				return err
			}
			info, err := ks.Info(args[0])
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func walletDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a wallet after checking its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore()
			if err != nil {
				return err
			}
			password, err := readPassword("Enter password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer clear(password)
			if _, err := ks.Unlock(args[0], password); err != nil {
				return err
			}
			if err := ks.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Wallet deleted: %s\n", args[0])
			return nil
		},
	}
}
