package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"

	databaseURL string
	mongoURI    string
	tenantID    string
	superAdmin  bool
)

var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "taskctl - Inspect and export the task store",
	Long: `taskctl reads tasks straight from the store with the same hierarchy
organizer and filters the server uses.

Commands:
  list      Print the organized task hierarchy
  stats     Print total, active, completed and overdue counts
  export    Write the task list to an XLSX workbook
  token     Mint a development access token
  migrate   Copy every task into another store

Examples:
  taskctl list --tenant acme --status doing
  taskctl export --tenant acme --from 2025-03-01 --to 2025-03-31 -o march.xlsx
  taskctl token --user u1 --tenant acme
  taskctl migrate --to mysql://user:pass@db:3306/tasks --dry-run`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", envOr("DATABASE_URL", "sqlite://taskhub.db"), "SQL task store (mysql:// or sqlite://)")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongodb-uri", os.Getenv("MONGODB_URI"), "Read from MongoDB instead of SQL")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "Tenant to read")
	rootCmd.PersistentFlags().BoolVar(&superAdmin, "super-admin", false, "Read across all tenants")

	rootCmd.AddCommand(ListCmd)
	rootCmd.AddCommand(StatsCmd)
	rootCmd.AddCommand(ExportCmd)
	rootCmd.AddCommand(TokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
