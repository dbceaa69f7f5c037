// Package main is the cart-sync-simulator CLI: it serves the simulated
// backend and drives the cart client engine against it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/cart-sync-simulator/internal/config"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cart-sync-simulator",
	Short: "Cart reconciliation engine and simulated cart backend",
	Long: `cart-sync-simulator runs a simulated cart backend and a local-first cart client.

The client keeps the cart in a local SQLite file, mirrors every mutation to
the backend in the background and reconciles on load.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	c, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = c
	obs.InitLogger()
	obs.SetLevel(cfg.LogLevel)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (or set CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(checkoutCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
