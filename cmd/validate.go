package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pandit/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Load the configuration file (plus PANDIT_* environment overrides), apply
defaults and validate it without starting capture. The effective
configuration is printed as YAML under the pandit: root key.

Examples:
  pandit validate -c /etc/pandit/config.yml
  PANDIT_HTTP_PORT=8080 pandit validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
		return writeEffectiveConfig(cmd.OutOrStdout(), cfg)
	},
}

func writeEffectiveConfig(out io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.Config{"pandit": cfg}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
