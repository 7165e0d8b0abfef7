package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"game-library/config"
	"game-library/library"
	"game-library/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	dbPath string

	cfg *config.Config
	log *logger.Logger
	mgr *library.LibraryManager
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gamelib",
		Short:         "Game library catalog, loans and collections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd.Context(), a, os.Stdin, cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite database (overrides "+config.EnvDBPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Log in and run the interactive shell",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runShell(cmd.Context(), a, os.Stdin, cmd.OutOrStdout())
			},
		},
		newUserCmd(a),
	)
	return root
}

func newUserCmd(a *app) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var realName, role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Register an account (librarian only while none exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedRole, err := library.ParseRole(role)
			if err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("Password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			confirm, err := readPassword("Repeat password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			u, err := a.mgr.RegisterUser(cmd.Context(), library.Registration{
				Username: args[0],
				Password: password,
				RealName: realName,
				Role:     parsedRole,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (ID %d) as %s\n", u.Username, u.ID, u.Role)
			return nil
		},
	}
	add.Flags().StringVar(&realName, "name", "", "real name")
	add.Flags().StringVar(&role, "role", string(library.RolePatron), "patron or librarian")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := a.mgr.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			printUsers(cmd.OutOrStdout(), users)
			return nil
		},
	}

	userCmd.AddCommand(add, list)
	return userCmd
}

// open loads .env and the environment, then opens the library.
func (a *app) open(ctx context.Context) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.dbPath != "" {
		cfg.DB.Path = a.dbPath
	}

	a.log = logger.New(logger.Options{
		ServiceName: "gamelib",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		a.log.WarnErr(ctx, "could not read .env", envErr)
	} else if envErr != nil {
		a.log.Debug(ctx, "no .env file, using process environment")
	}

	mgr, err := library.NewLibraryManager(cfg.DB.Path, library.Options{
		AccessLoanDays: cfg.Loans.AccessLoanDays,
		UPCMaxAttempts: cfg.Catalog.UPCMaxAttempts,
		BcryptCost:     cfg.Auth.BcryptCost,
		BusyTimeout:    cfg.DB.BusyTimeout,
	}, a.log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.mgr = mgr
	a.log.Debug(a.log.WithField(ctx, "db_path", cfg.DB.Path), "library opened")
	return nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func printUsers(w io.Writer, users []*library.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users registered.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUsername\tName\tRole\tJoined")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.RealName, u.Role, u.CreatedAt.Format("2006-01-02"))
	}
	tw.Flush()
}
