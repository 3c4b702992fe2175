package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/config"
)

// Version is stamped at build time.
var Version = "0.1.0"

// rootState carries the flags and lazily loaded config shared by every
// subcommand.
type rootState struct {
	configPath string
	logLevel   string
	logger     *slog.Logger
	cfg        *config.Config
}

// load resolves logging and configuration once the flags are parsed.
func (r *rootState) load() error {
	level := slog.LevelInfo
	switch strings.ToLower(r.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(r.logger)

	if r.configPath != "" {
		cfg, err := config.LoadFromFile(r.configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.cfg = cfg
		return nil
	}
	cfg, err := config.NewLoader(r.logger).Load()
	if err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

// Root builds the draftforge command tree.
func Root() *cobra.Command {
	state := &rootState{}

	cmd := &cobra.Command{
		Use:   "draftforge",
		Short: "Generate SRS artifacts from a project brief",
		Long: `Draftforge turns a short project brief into a structured set of
software-requirements artifacts: requirements, user stories, a
development-cost plan, UML diagrams and UI mockups.

Generation runs as a five-stage pipeline on a NATS-backed job queue;
every generated entity is persisted with full version history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&state.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&state.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(state),
		projectCmd(state),
		generateCmd(state),
		regenerateCmd(state),
		statusCmd(state),
		configCmd(state),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("draftforge version %s\n", Version)
			},
		},
	)
	return cmd
}
