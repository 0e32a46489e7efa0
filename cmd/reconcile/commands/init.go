package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

const starterConfig = `// reconcile configuration. Relative paths resolve against this file.

workspace: {
	dir:     "."
	profile: "default"
}

storage: backend: "file"

telemetry: log: level: "info"

policies: protected_items: []

flows: app: items: [
	{
		id:   "app_config"
		kind: "file"
		params: {
			path:    "app.conf"
			content: "listen = 8080\n"
		}
	},
	{
		id:         "motd"
		kind:       "file"
		depends_on: ["app_config"]
		params: {
			path:    "motd.txt"
			content: "managed by reconcile\n"
		}
	},
]
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a reconcile workspace",
		Long: `Write a starter configuration and create the workspace directories and the
execution history database for every configured flow.

An existing configuration is kept unless --force is given.`,
		Example: `  # Initialize in the current directory
  reconcile init

  # Initialize with a custom config path
  reconcile init --config ./ops/reconcile.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := configSource()
			out := cmd.OutOrStdout()

			log.Info().Str("config", path).Bool("force", force).Msg("Initializing workspace")

			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				fmt.Fprintf(out, "✓ Keeping existing config: %s\n", path)
			case err == nil || os.IsNotExist(err):
				if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Fprintf(out, "✓ Created config file: %s\n", path)
			default:
				return fmt.Errorf("failed to stat config file: %w", err)
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			profile, err := engine.NewProfile(selectProfile(cfg))
			if err != nil {
				return err
			}

			ws := workspace.New(osFs, cfg.WorkspaceDir())
			for _, flow := range cfg.FlowIDs() {
				fd := workspace.FlowDir{Profile: profile, Flow: flow}
				if err := ws.Init(fd); err != nil {
					return err
				}
				history, err := openHistory(ctx, ws, fd)
				if err != nil {
					return fmt.Errorf("failed to initialize history for %s: %w", fd, err)
				}
				_ = history.Close()
				fmt.Fprintf(out, "✓ Initialized flow %s in %s\n", fd, ws.FlowPath(fd))
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  reconcile discover   # record current and goal states\n")
			fmt.Fprintf(out, "  reconcile ensure     # apply the goal states\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
