package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newAutoCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-commit",
		Short: "Run or inspect auto-commits",
	}
	cmd.AddCommand(newAutoCommitRunCmd())
	cmd.AddCommand(newAutoCommitStatusCmd())
	return cmd
}

func newAutoCommitRunCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		pending    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Commit a session's work now, or drain one due job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" && !pending {
				return fmt.Errorf("either --session or --pending is required")
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := context.Background()

			if pending {
				ran, err := a.autoCommit.ProcessPending(ctx)
				if err != nil {
					return err
				}
				if !ran {
					fmt.Fprintln(out, "No due auto-commit jobs.")
				} else {
					fmt.Fprintln(out, "Processed one auto-commit job.")
				}
				return nil
			}

			res, err := a.autoCommit.Execute(ctx, sessionID)
			if err != nil {
				return err
			}
			if !res.Success {
				fmt.Fprintf(out, "%s %s\n", red("Not committed:"), res.Error)
				return nil
			}
			fmt.Fprintf(out, "%s %s on %s\n", green("Committed"), res.CommitHash, res.Branch)
			fmt.Fprintf(out, "Files: %s\n", strings.Join(res.FilesCommitted, ", "))
			if res.PushError != "" {
				fmt.Fprintf(out, "%s %s\n", yellow("Push failed:"), res.PushError)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to commit")
	cmd.Flags().BoolVar(&pending, "pending", false, "execute the oldest due queued job instead")
	return cmd
}

func newAutoCommitStatusCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a session's auto-commit config, pending job and recent commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			st, err := a.autoCommit.Status(context.Background(), sessionID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if st.Config == nil {
				fmt.Fprintf(out, "No auto-commit config for %s.\n", sessionID)
			} else {
				enabled := red("disabled")
				if st.Config.Enabled {
					enabled = green("enabled")
				}
				fmt.Fprintf(out, "Auto-commit: %s (debounce %s)\n", enabled, time.Duration(st.Config.DebounceMs)*time.Millisecond)
				if st.Config.LastCommitHash != nil {
					fmt.Fprintf(out, "Last commit: %s\n", *st.Config.LastCommitHash)
				}
			}
			if st.PendingJob != nil {
				fmt.Fprintf(out, "Pending job: #%d %s, due %s\n",
					st.PendingJob.ID, statusColor(st.PendingJob.Status), st.PendingJob.ExecuteAt.Format(time.RFC3339))
			}
			if len(st.RecentCommits) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			table := newTable(out, "COMMIT", "AT")
			for _, rc := range st.RecentCommits {
				at := "-"
				if rc.At != nil {
					at = rc.At.Format(time.RFC3339)
				}
				table.Append([]string{rc.Hash, at})
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to inspect")
	return cmd
}
