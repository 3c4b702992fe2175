package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/config"
)

func configCmd(state *rootState) *cobra.Command {
	var initUser bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Long: `Config prints the fully resolved configuration: defaults, overlaid
with the user config and the nearest project draftforge.yaml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initUser {
				if err := config.NewLoader(state.logger).EnsureUserConfig(); err != nil {
					return err
				}
			}
			data, err := yaml.Marshal(state.cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&initUser, "init", false, "Create the user config file with defaults if missing")
	return cmd
}
