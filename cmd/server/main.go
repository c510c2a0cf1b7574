package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"openchat/backend/internal/app"
	"openchat/backend/internal/auth"
	"openchat/backend/internal/config"
	"openchat/backend/internal/database"
)

// @title           OpenChat API
// @version         1.0
// @description     Streaming chat backend for local Ollama models and external LLM providers.
// @BasePath        /api
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and a JWT.

var configFile string

var rootCmd = &cobra.Command{
	Use:   "openchat",
	Short: "OpenChat streaming chat server",
	// Without a subcommand the server starts.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQLite schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if cfg.StoreDriver != "sqlite" {
			return fmt.Errorf("migrations only apply to the sqlite store, got %q", cfg.StoreDriver)
		}
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.DatabasePath)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a signed bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		token, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL).GenerateJWT(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func serve() error {
	if code := app.Run(configFile); code != 0 {
		os.Exit(code)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (defaults to ./.env)")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
