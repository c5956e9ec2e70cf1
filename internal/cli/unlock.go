package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/runner"
)

func newUnlockCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale project lock file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			info, err := runner.ReadLock(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintf(out, "No lock found in %s\n", dir)
					return nil
				}
				return fmt.Errorf("read lock: %w", err)
			}

			if err := os.Remove(filepath.Join(dir, runner.LockFileName)); err != nil {
				return fmt.Errorf("remove lock: %w", err)
			}

			fmt.Fprintf(out, "Removed lock in %s (was PID %d, %s, since %s)\n",
				dir, info.PID, info.Owner, info.StartedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")

	return cmd
}
