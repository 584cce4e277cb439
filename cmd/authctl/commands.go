package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"auth/internal/bootstrap"
	"auth/internal/config"
	"auth/internal/domain"
	"auth/internal/observability/logging"
	impl "auth/internal/service/impl"

	"github.com/spf13/cobra"
)

var errMismatch = errors.New("password does not match")

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	logLevel string
	timeout  time.Duration
	stdin    *bufio.Reader
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Manage password credentials",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = logging.NewLogger(logging.Config{
				ServiceName: "authctl",
				Environment: a.cfg.Environment,
				Level:       a.logLevel,
				Output:      cmd.ErrOrStderr(),
			})
			a.stdin = bufio.NewReader(cmd.InOrStdin())
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level written to stderr")
	root.PersistentFlags().StringVar(&a.cfg.StoreDriver, "store", a.cfg.StoreDriver, "store driver: postgres, sqlite, redis or memory")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "deadline for the whole command")

	root.AddCommand(
		a.hashCmd(),
		a.verifyCmd(),
		a.migrateCmd(),
		a.registerCmd(),
		a.loginCmd(),
		a.passwdCmd(),
		a.removeCmd(),
		a.listCmd(),
	)
	return root
}

func (a *app) hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Read a password from stdin and print its encoded secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := bootstrap.NewPasswordService(a.cfg)
			if err != nil {
				return err
			}
			pw, err := a.readPassword()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			encoded, err := ps.Hash(ctx, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <encoded-secret>",
		Short: "Read a password from stdin and check it against an encoded secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := bootstrap.NewPasswordService(a.cfg)
			if err != nil {
				return err
			}
			pw, err := a.readPassword()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			ok, err := ps.Verify(ctx, pw, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errMismatch
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "ok")
			if ps.NeedsRehash(args[0]) {
				fmt.Fprintln(out, "needs rehash")
			}
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := bootstrap.Migrate(ctx, a.cfg, a.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <username>",
		Short: "Create a credential; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(ctx context.Context, cmd *cobra.Command, as *impl.AuthServiceImpl, username string) error {
			pw, err := a.readPassword()
			if err != nil {
				return err
			}
			if err := as.Register(ctx, username, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", username)
			return nil
		}),
	}
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Check a password read from stdin; exits non-zero on mismatch",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(ctx context.Context, cmd *cobra.Command, as *impl.AuthServiceImpl, username string) error {
			pw, err := a.readPassword()
			if err != nil {
				return err
			}
			ok, err := as.Login(ctx, username, pw)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrInvalidCredentials
			}
			fmt.Fprintln(cmd.OutOrStdout(), "authenticated")
			return nil
		}),
	}
}

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a password; reads the current then the new password from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(ctx context.Context, cmd *cobra.Command, as *impl.AuthServiceImpl, username string) error {
			current, err := a.readPassword()
			if err != nil {
				return err
			}
			next, err := a.readPassword()
			if err != nil {
				return err
			}
			if err := as.ChangePassword(ctx, username, current, next); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed for %s\n", username)
			return nil
		}),
	}
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Delete a credential without a password check",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(ctx context.Context, cmd *cobra.Command, as *impl.AuthServiceImpl, username string) error {
			if err := as.Remove(ctx, username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", username)
			return nil
		}),
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every registered username, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			as, closeStore, err := bootstrap.NewAuthService(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			names, err := as.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

type serviceFunc func(ctx context.Context, cmd *cobra.Command, as *impl.AuthServiceImpl, username string) error

// withService opens the configured store for the duration of one command.
func (a *app) withService(fn serviceFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := a.context(cmd)
		defer cancel()

		as, closeStore, err := bootstrap.NewAuthService(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				a.logger.Warn("close store", "error", err)
			}
		}()
		return fn(ctx, cmd, as, args[0])
	}
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// readPassword takes one line from stdin. Only the line terminator is
// stripped; surrounding spaces are part of the password.
func (a *app) readPassword() (string, error) {
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("no password on stdin")
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
