package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/analysis"
	"github.com/ppiankov/qaforge/internal/dispatch"
	"github.com/ppiankov/qaforge/internal/runner"
)

func newInvokeCmd() *cobra.Command {
	var (
		dir      string
		agentURL string
		env      []string
	)

	cmd := &cobra.Command{
		Use:   "invoke [flags] -- PRODUCT [ARGS...]",
		Short: "Run a single command the way job steps are run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := analysis.NewDescriptor(args[0], args[1:]...)
			for _, kv := range env {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --env %q (want KEY=VALUE)", kv)
				}
				d = d.WithEnv(k, v)
			}

			var disp dispatch.Dispatcher
			if agentURL != "" {
				disp = dispatch.NewRemote(agentURL)
			} else {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return fmt.Errorf("resolve dir: %w", err)
				}
				dir = abs
				disp = dispatch.NewLocal(runner.NewExecRunner())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ok, err := disp.Dispatch(ctx, d, dir, analysis.NewWriterSink(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			if !ok {
				return &AnalysisFailedError{Steps: []string{args[0]}}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory (relative to the agent workspace root with --agent)")
	cmd.Flags().StringVar(&agentURL, "agent", "", "run on the agent at this URL instead of locally")
	cmd.Flags().StringArrayVar(&env, "env", nil, "extra environment variable KEY=VALUE (repeatable)")

	return cmd
}
