package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Read or credit user balances",
}

var balanceGetCmd = &cobra.Command{
	Use:   "get USER_ID",
	Short: "Print a user's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		bal, err := rt.Ledger.GetBalance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], bal)
		return nil
	},
}

var balanceAddCmd = &cobra.Command{
	Use:     "add USER_ID AMOUNT",
	Short:   "Credit a user's balance",
	Example: "  genctl balance add 42 500",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("amount must be a positive integer, got %q", args[1])
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		bal, err := rt.Ledger.AddBalance(ctx, args[0], amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], bal)
		return nil
	},
}

func init() {
	balanceCmd.AddCommand(balanceGetCmd, balanceAddCmd)
	rootCmd.AddCommand(balanceCmd)
}
