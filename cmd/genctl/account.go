package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genbot/internal/domain"
)

type accountWriter interface {
	UpsertAccount(ctx context.Context, acct domain.Account) error
}

var (
	accountRole    string
	accountBlocked bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect or change account standing",
}

var accountGetCmd = &cobra.Command{
	Use:   "get USER_ID",
	Short: "Print a user's role and block status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		acct, err := rt.Accounts.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		spent, err := rt.Accounts.AdminSpent(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user=%s role=%s blocked=%t admin_spent=%d\n", acct.UserID, acct.Role, acct.Blocked, spent)
		return nil
	},
}

var accountSetCmd = &cobra.Command{
	Use:     "set USER_ID",
	Short:   "Set a user's role and block status",
	Example: "  genctl account set 42 --role admin\n  genctl account set 99 --blocked",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := domain.AccountRole(strings.ToLower(strings.TrimSpace(accountRole)))
		switch role {
		case domain.RoleUser, domain.RoleAdmin, domain.RoleRoot:
		default:
			return fmt.Errorf("unsupported role %q", accountRole)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		w, ok := rt.Accounts.(accountWriter)
		if !ok || rt.Pool == nil {
			return errors.New("account changes need DATABASE_URL; in-memory accounts are not persisted")
		}
		acct := domain.Account{UserID: args[0], Role: role, Blocked: accountBlocked}
		if err := w.UpsertAccount(ctx, acct); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user=%s role=%s blocked=%t\n", acct.UserID, acct.Role, acct.Blocked)
		return nil
	},
}

func init() {
	accountSetCmd.Flags().StringVar(&accountRole, "role", string(domain.RoleUser), "role to assign (user, admin, root)")
	accountSetCmd.Flags().BoolVar(&accountBlocked, "blocked", false, "block the account")
	accountCmd.AddCommand(accountGetCmd, accountSetCmd)
	rootCmd.AddCommand(accountCmd)
}
