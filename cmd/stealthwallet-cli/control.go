package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// ── auth ────────────────────────────────────────────────────────────────

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log the daemon in and out of a wallet",
	}

	var name string
	login := &cobra.Command{
		Use:   "login",
		Short: "Unlock a wallet and derive its stealth keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Wallet password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			st, err := client.Authenticate(name, string(password))
			clear(password)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
	login.Flags().StringVar(&name, "wallet", "", "Wallet name (default: the daemon's wallet.name)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show login and relay state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client.AuthStatus()
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Disconnect every session and forget the stealth keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client.Logout()
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}

	cmd.AddCommand(login, status, logout)
	return cmd
}

// ── addresses ───────────────────────────────────────────────────────────

func addressesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "addresses",
		Aliases: []string{"addr"},
		Short:   "List, generate and select stealth addresses",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client.Addresses()
			if err != nil {
				return err
			}
			if len(list.Addresses) == 0 {
				fmt.Println("No stealth addresses.")
				return nil
			}
			for _, d := range list.Addresses {
				mark := " "
				if list.Selected != nil && *list.Selected == d.StealthAddress {
					mark = "*"
				}
				fmt.Printf("%s %s  viewTag=%d\n", mark, d.StealthAddress.Hex(), uint64(d.ViewTag))
			}
			if list.Generating {
				fmt.Println("(generation in progress)")
			}
			return nil
		},
	}

	generate := &cobra.Command{
		Use:   "generate [count]",
		Short: "Generate stealth addresses (default: wallet.batchsize)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid count %q", args[0])
				}
				count = n
			}
			details, err := client.Generate(count)
			if err != nil {
				return err
			}
			for _, d := range details {
				fmt.Println(d.StealthAddress.Hex())
			}
			return nil
		},
	}

	sel := &cobra.Command{
		Use:   "select <address>",
		Short: "Offer address to new sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client.Select(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Selected: %s\n", d.StealthAddress.Hex())
			return nil
		},
	}

	cmd.AddCommand(generate, sel)
	return cmd
}

// ── pairing ─────────────────────────────────────────────────────────────

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <wc: uri>",
		Short: "Pair with a dApp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Pair(args[0]); err != nil {
				return err
			}
			fmt.Println("Paired, waiting for the dApp's session proposal.")
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active dApp sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client.Sessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s (%s)  expires %s\n", s.Topic, s.Peer.Name, s.Peer.URL, s.Expiry.Format("2006-01-02 15:04"))
				for _, acct := range s.Accounts() {
					fmt.Printf("    %s\n", acct)
				}
			}
			return nil
		},
	}
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <topic>",
		Short: "End a dApp session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Disconnect(args[0]); err != nil {
				return err
			}
			fmt.Println("Disconnected.")
			return nil
		},
	}
}

// ── requests ────────────────────────────────────────────────────────────

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Show and answer the pending dApp request",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.Pending()
			if err != nil {
				return err
			}
			if !res.Pending {
				fmt.Println("No pending request.")
				return nil
			}
			return printJSON(res.Request)
		},
	}

	approve := &cobra.Command{
		Use:   "approve",
		Short: "Sign or send the pending request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Approve()
			if err != nil {
				return err
			}
			if resp.ExplorerURL != "" {
				fmt.Printf("Transaction: %s\n", resp.ExplorerURL)
			}
			return printJSON(resp)
		},
	}

	reject := &cobra.Command{
		Use:   "reject",
		Short: "Reject the pending request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Reject()
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	last := &cobra.Command{
		Use:   "last",
		Short: "Show the last response sent to a dApp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.LastResponse()
			if err != nil {
				return err
			}
			if !res.Present {
				fmt.Println("No response sent yet.")
				return nil
			}
			return printJSON(res.Response)
		},
	}

	cmd.AddCommand(approve, reject, last)
	return cmd
}

// ── funding ─────────────────────────────────────────────────────────────

func fundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fund",
		Short: "Ask the funder to send ether to every stealth address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.Fund()
			if err != nil {
				return err
			}
			if len(res.Hashes) == 0 && res.Attempted {
				fmt.Printf("Funding already attempted (funded: %v).\n", res.Funded)
				return nil
			}
			for _, h := range res.Hashes {
				fmt.Println(h.Hex())
			}
			return nil
		},
	}
}
