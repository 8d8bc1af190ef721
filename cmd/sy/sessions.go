package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and sweep agent sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsCleanupCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		configPath string
		filter     session.Filter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			sessions, err := session.New(gormDB).List(context.Background(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			now := time.Now().UTC()
			table := newTable(out, "ID", "USER", "CLIENT", "PROJECT", "BRANCH", "STATUS", "LAST ACTIVITY")
			for _, s := range sessions {
				table.Append([]string{
					truncate(s.ID, 24),
					s.User,
					s.ClientID,
					s.Project,
					deref(s.Branch),
					statusColor(s.Status),
					formatAgo(s.LastActivityAt, now),
				})
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d session(s)\n", len(sessions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVar(&filter.ClientID, "client", "", "filter by client id")
	cmd.Flags().StringVar(&filter.Project, "project", "", "filter by project")
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status (active, inactive)")
	return cmd
}

func newSessionsCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass now",
		Long:  "Deactivates idle sessions, prunes old and orphaned activity, deletes stale sessions and releases their locks, as the scheduled cleanup does.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			report, err := sched.Cleanup(context.Background())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deactivated sessions: %d\n", report.DeactivatedSessions)
			fmt.Fprintf(out, "Deleted sessions:     %d\n", report.DeletedSessions)
			fmt.Fprintf(out, "Released locks:       %d\n", report.ReleasedLocks)
			fmt.Fprintf(out, "Old activity:         %d\n", report.Activity.OldRecords)
			fmt.Fprintf(out, "Orphaned activity:    %d\n", report.Activity.OrphanedRecords)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}
