package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"game-library/config"
	"game-library/library"
	"game-library/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	var (
		file     string
		dbPath   string
		username string
	)

	cmd := &cobra.Command{
		Use:          "import_games",
		Short:        "Add every game of a YAML catalog to the library",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), file, dbPath, username)
		},
	}
	cmd.Flags().StringVar(&file, "file", "games.yaml", "YAML catalog to import")
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the SQLite database (overrides "+config.EnvDBPath+")")
	cmd.Flags().StringVar(&username, "username", "", "librarian account to import as")
	_ = cmd.MarkFlagRequired("username")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, file, dbPath, username string) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	log := logger.New(logger.Options{
		ServiceName: "import_games",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	manager, err := library.NewLibraryManager(cfg.DB.Path, library.Options{
		AccessLoanDays: cfg.Loans.AccessLoanDays,
		UPCMaxAttempts: cfg.Catalog.UPCMaxAttempts,
		BcryptCost:     cfg.Auth.BcryptCost,
		BusyTimeout:    cfg.DB.BusyTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	fmt.Printf("Password for %s: ", username)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	user, err := manager.Login(ctx, username, strings.TrimSpace(string(password)))
	if err != nil {
		return err
	}

	fmt.Printf("Importing games from %s...\n", file)
	report, err := manager.ImportGamesFromFile(ctx, user.Actor(), file)
	if err != nil {
		return err
	}

	for _, f := range report.Failed {
		fmt.Printf("ERROR - %s: %v\n", f.Title, f.Err)
	}
	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d games\n", len(report.Added))
	fmt.Printf("Errors: %d\n", len(report.Failed))

	if len(report.Added) > 0 {
		fmt.Println("\nImported games:")
		fmt.Printf("%-5s %-14s %-50s\n", "ID", "UPC", "Title")
		fmt.Println(strings.Repeat("-", 71))
		for _, g := range report.Added {
			fmt.Printf("%-5d %-14s %-50s\n", g.ID, g.UPC, library.TruncateString(g.Title, 50))
		}
	}
	return nil
}
