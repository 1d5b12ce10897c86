package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jacky040124/openquest/internal/rpc"
	agentrpc "github.com/Jacky040124/openquest/internal/rpc/agent"
)

// NewImplementCmd pushes the solution from a previous analysis session.
func NewImplementCmd(opts *Options) *cobra.Command {
	var branchName string
	var commitMessage string
	var tokenEnv string

	cmd := &cobra.Command{
		Use:   "implement <session-id>",
		Short: "Push the solution from a previous analysis to your fork",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			reqBody := rpc.ImplementRequest{
				SessionID:     args[0],
				BranchName:    branchName,
				GitHubToken:   os.Getenv(tokenEnv),
				CommitMessage: commitMessage,
			}

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return streamNDJSON(ctx, cmd, baseURL+"/agent/implement", reqBody)
			default:
				return streamConnect(ctx, cmd, baseURL+agentrpc.ConnectImplementProcedure,
					rpc.AgentStreamRequest{Implement: &reqBody})
			}
		},
	}

	cmd.Flags().StringVar(&branchName, "branch", "", "Branch name to create on the fork")
	cmd.Flags().StringVar(&commitMessage, "message", "", "Commit message (defaults to the solution's)")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "GITHUB_TOKEN", "Environment variable holding the GitHub token")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}
