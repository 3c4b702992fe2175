package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/store"
)

func projectCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(projectCreateCmd(state), projectListCmd(state))
	return cmd
}

func projectCreateCmd(state *rootState) *cobra.Command {
	var (
		briefFile   string
		name        string
		description string
		platform    string
		constraints []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project from a brief",
		Long: `Create registers a new project. The brief comes either from flags or
from a YAML file with the same field names as the project brief.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			brief := store.Brief{
				Name:           name,
				Description:    description,
				TargetPlatform: platform,
				Constraints:    constraints,
			}
			if briefFile != "" {
				data, err := os.ReadFile(briefFile)
				if err != nil {
					return fmt.Errorf("read brief file: %w", err)
				}
				if err := yaml.Unmarshal(data, &brief); err != nil {
					return fmt.Errorf("parse brief file: %w", err)
				}
			}
			if brief.Name == "" {
				return fmt.Errorf("a project needs a name (--name or brief file)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			proj := &store.Project{Brief: brief}
			if err := a.store.CreateProject(ctx, proj); err != nil {
				return err
			}
			fmt.Printf("created %s (%s)\n", proj.ID, brief.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&briefFile, "file", "f", "", "Brief YAML file")
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform")
	cmd.Flags().StringSliceVar(&constraints, "constraint", nil, "Constraint (repeatable)")
	return cmd
}

func projectListCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.store.ListProjects(ctx)
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s  %-12s  %s\n", p.ID, p.Generation.Status, p.Brief.Name)
			}
			return nil
		},
	}
}
