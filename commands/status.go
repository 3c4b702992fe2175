package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/store"
)

func statusCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show a project's generation status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			proj, err := a.store.GetProject(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s  %s\n", proj.ID, proj.Brief.Name)
			fmt.Printf("status: %s\n", proj.Generation.Status)
			if proj.Generation.StartedAt != nil {
				fmt.Printf("started: %s\n", proj.Generation.StartedAt.Format(time.RFC3339))
			}
			if proj.Generation.CompletedAt != nil {
				fmt.Printf("finished: %s\n", proj.Generation.CompletedAt.Format(time.RFC3339))
			}
			if proj.Generation.Error != "" {
				fmt.Printf("error: %s\n", proj.Generation.Error)
			}

			kinds := []store.ArtifactKind{
				store.ArtifactRequirements, store.ArtifactUserStories,
				store.ArtifactPlan, store.ArtifactDiagrams, store.ArtifactMockups,
			}
			for _, kind := range kinds {
				if count, ok := proj.Progress[kind]; ok {
					fmt.Printf("  %-18s %d/%d\n", kind, count.Completed, count.Total)
				}
			}

			stale, err := a.store.ListStaleMockups(ctx, proj.ID)
			if err != nil {
				return err
			}
			if len(stale) > 0 {
				fmt.Printf("stale mockups: %d (run \"draftforge regenerate %s --stale\")\n", len(stale), proj.ID)
			}
			return nil
		},
	}
}
