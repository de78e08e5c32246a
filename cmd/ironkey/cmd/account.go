package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkey/lock"
)

// withApp opens the client for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, p *prompter) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close client", "error", err)
		}
	}()
	return fn(ctx, a, newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
}

func register(ctx context.Context, a *app, p *prompter, username, email string) error {
	var err error
	if username == "" {
		if username, err = p.line("Username: "); err != nil {
			return err
		}
	}
	if email == "" {
		if email, err = p.line("Email: "); err != nil {
			return err
		}
	}
	password, err := p.newPassword("Master password: ")
	if err != nil {
		return err
	}
	if err := a.lock.Register(ctx, username, email, password); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Registered %s. The vault is unlocked.\n", a.lock.Username())
	return nil
}

func login(ctx context.Context, a *app, p *prompter, username string) error {
	var err error
	if username == "" {
		if username, err = p.line("Username: "); err != nil {
			return err
		}
	}
	password, err := p.password("Master password: ")
	if err != nil {
		return err
	}
	if err := a.lock.Login(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Logged in as %s. The vault is unlocked.\n", a.lock.Username())
	return nil
}

func printStatus(w io.Writer, l *lock.Lock) {
	policy := l.Policy()
	timeout := "never"
	if policy.IdleTimeout != lock.Never {
		timeout = fmt.Sprintf("%s then %s", policy.IdleTimeout, policy.TimeoutAction)
	}
	switch l.State() {
	case lock.LoggedOut:
		fmt.Fprintln(w, "State:         logged-out")
	default:
		fmt.Fprintf(w, "State:         %s\n", l.State())
		fmt.Fprintf(w, "User:          %s\n", l.Username())
	}
	fmt.Fprintf(w, "Idle timeout:  %s\n", timeout)
	fmt.Fprintf(w, "Lock on close: %t\n", policy.LockOnClose)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and unlock the new vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		return withApp(cmd, func(ctx context.Context, a *app, p *prompter) error {
			return register(ctx, a, p, username, email)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to an existing account",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		return withApp(cmd, func(ctx context.Context, a *app, p *prompter) error {
			return login(ctx, a, p, username)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session and all local key material",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, p *prompter) error {
			if a.lock.State() == lock.LoggedOut {
				fmt.Fprintln(p.out, "Not logged in.")
				return nil
			}
			if err := a.lock.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(p.out, "Logged out.")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault state and lock policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, p *prompter) error {
			printStatus(p.out, a.lock)
			return nil
		})
	},
}

func init() {
	registerCmd.Flags().StringP("username", "u", "", "Account username")
	registerCmd.Flags().StringP("email", "e", "", "Account email")
	loginCmd.Flags().StringP("username", "u", "", "Account username")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, statusCmd)
}
