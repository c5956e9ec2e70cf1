package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/config"
)

// Version, Commit and BuildDate are set via LDFLAGS at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	verbose    bool
	configFile string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qaforge",
		Short: "Run QA Framework analysis jobs from CI",
		Long:  "qaforge plans a QA Framework job from .qaforge.yml and runs its qacli invocations locally or on a remote agent, streaming the tool output into the build log.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "path to config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newAgentCmd())
	root.AddCommand(newInvokeCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newUnlockCmd())
	root.AddCommand(newVersionCmd())

	return root
}
