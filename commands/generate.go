package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func generateCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <project-id>",
		Short: "Start a full generation run",
		Long: `Generate triggers the full chain for a project: requirements, user
stories, development plan, UML diagrams and mockups. The run executes on
the worker; track it with "draftforge status".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			genID, err := a.pipeline.StartFullRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("generation %s started for %s\n", genID, args[0])
			return nil
		},
	}
}
