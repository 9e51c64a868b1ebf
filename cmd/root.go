// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	// Register built-in plugins.
	_ "firestige.xyz/pandit/plugins"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pandit",
	Short: "Pandit - in-line HTTP/1.x response inspector",
	Long: `Pandit watches the responses leaving an HTTP service and records their
status line and headers per response, without reassembling TCP streams.

Each response is keyed by its destination address and TCP ack number.
Parsed header entries can be polled over the HTTP API or pushed to
reporters (console, Kafka).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and PANDIT_* environment when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
