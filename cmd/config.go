package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		// The secret is either user-provided or freshly random; don't
		// echo it.
		s.Secret = "<hidden>"
		out, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}
