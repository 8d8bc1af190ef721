package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/killswitch"
)

func newKillSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kill-switch",
		Aliases: []string{"ks"},
		Short:   "Stop and resume gateway services",
		Long: "Kill switches refuse /exec requests for a service until cleared.\n" +
			"The service name " + killswitch.Global + " stops every service at once.",
	}
	cmd.AddCommand(newKillSwitchListCmd())
	cmd.AddCommand(newKillSwitchActivateCmd())
	cmd.AddCommand(newKillSwitchDeactivateCmd())
	return cmd
}

func newKillSwitchListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List kill switches",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			switches, err := killswitch.New(gormDB).List(context.Background())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(switches) == 0 {
				fmt.Fprintln(out, "No kill switches set.")
				return nil
			}
			table := newTable(out, "SERVICE", "STATE", "REASON", "UPDATED")
			for _, ks := range switches {
				state := green("clear")
				if ks.Active {
					state = red("killed")
				}
				table.Append([]string{ks.Service, state, deref(ks.Reason), ks.UpdatedAt.Format("2006-01-02 15:04:05")})
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}

func newKillSwitchActivateCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "activate <service>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := killswitch.New(gormDB).Activate(context.Background(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill switch %s for %s\n", red("activated"), args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the service is stopped")
	return cmd
}

func newKillSwitchDeactivateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deactivate <service>",
		Short: "Resume a stopped service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := killswitch.New(gormDB).Deactivate(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill switch %s for %s\n", green("cleared"), args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}
