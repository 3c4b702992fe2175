package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/store"
)

func regenerateCmd(state *rootState) *cobra.Command {
	var (
		feedback string
		stale    bool
	)

	cmd := &cobra.Command{
		Use:   "regenerate <project-id> [entity-id]",
		Short: "Regenerate one entity, or all stale mockups",
		Long: `Regenerate schedules a targeted run for one entity: a requirement's
user stories, a single user story, or a single mockup, chosen by the
entity ID's type. Targeted runs never advance the chain.

With --stale, every mockup flagged by upstream requirement or story
changes is scheduled for regeneration instead.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			projectID := args[0]
			if stale {
				n, err := a.pipeline.ScheduleStaleMockups(ctx, projectID)
				if err != nil {
					return err
				}
				fmt.Printf("scheduled %d stale mockup(s)\n", n)
				return nil
			}
			if len(args) < 2 {
				return fmt.Errorf("an entity ID is required unless --stale is set")
			}

			targetID := args[1]
			id, err := store.ParseEntityID(targetID)
			if err != nil {
				return err
			}
			switch id.Type {
			case store.EntityTypeRequirement, store.EntityTypeUserStory:
				err = a.pipeline.RegenerateStories(ctx, projectID, targetID, feedback)
			case store.EntityTypeMockup:
				err = a.pipeline.RegenerateMockup(ctx, projectID, targetID, feedback)
			default:
				return fmt.Errorf("cannot regenerate a %s", id.Type)
			}
			if err != nil {
				return err
			}
			fmt.Printf("regeneration scheduled for %s\n", targetID)
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Free-text feedback folded into the prompt")
	cmd.Flags().BoolVar(&stale, "stale", false, "Regenerate every mockup flagged stale")
	return cmd
}
