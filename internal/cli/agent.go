package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/config"
	"github.com/ppiankov/qaforge/internal/dispatch"
)

const agentShutdownTimeout = 30 * time.Second

func newAgentCmd() *cobra.Command {
	var (
		listen  string
		root    string
		allowed []string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve analysis invocations for workspaces on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("listen") {
				listen = cfg.AgentListen()
			}
			if cfg.Agent != nil {
				if !cmd.Flags().Changed("workspace-root") && cfg.Agent.WorkspaceRoot != "" {
					root = cfg.Agent.WorkspaceRoot
				}
				if !cmd.Flags().Changed("allow") && len(cfg.Agent.AllowedProducts) > 0 {
					allowed = cfg.Agent.AllowedProducts
				}
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve workspace root: %w", err)
			}

			agent := dispatch.NewAgent(dispatch.AgentConfig{
				Listen:          listen,
				WorkspaceRoot:   root,
				AllowedProducts: allowed,
			}, newProcessRunner(cfg))

			addr, err := agent.Start()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "qaforge agent listening on %s (workspace root %s)\n", addr, root)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			fmt.Fprintln(cmd.ErrOrStderr(), "shutting down, waiting for running invocations...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), agentShutdownTimeout)
			defer cancel()
			return agent.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":7420", "address to listen on")
	cmd.Flags().StringVar(&root, "workspace-root", ".", "directory invocation dirs are resolved under")
	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "products the agent may run (default: any)")

	return cmd
}
