package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/config"
)

var cfg *config.Config

var jsonOut bool

var rootCmd = &cobra.Command{
	Use:   "contact-cli",
	Short: "Seller contact automation for property portals",
	Long: `contact-cli works a queue of seller contact jobs across Spanish property
portals (casalia, hogarix, pisea, ventora). It drives a real browser to open
listings, reveal seller phone numbers, and send templated messages, reusing
saved sessions and staying under per-day contact caps.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON instead of tables")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
