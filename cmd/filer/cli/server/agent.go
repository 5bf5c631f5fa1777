package server

import (
	"fmt"

	"github.com/mwantia/filer/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/filer/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the Filer Agent",
		Long:  `Start the Filer Agent. The metadata index is migrated and every configured backend is connected before the agent reports ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			agent := agent.NewAgent(cfg)
			return agent.Serve(cmd.Context())
		},
	}

	return cmd
}
