package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay YouTube PubSubHubbub notifications to chat webhooks by title keyword",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")

	rootCmd.AddCommand(serveCmd(&cfgPath))
	rootCmd.AddCommand(subscribeCmd(&cfgPath))
	rootCmd.AddCommand(checkTargetsCmd(&cfgPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
