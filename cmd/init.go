package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anilymngl/codemind/pkg/config"
	"github.com/anilymngl/codemind/pkg/prompts"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration in the current directory",
	Long:  `Creates .codemind/config.yaml in the current working directory, allowing for project-specific settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.CurrentConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists, pass --force to overwrite", path)
		}
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), prompts.ConfigSaved(path))
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
