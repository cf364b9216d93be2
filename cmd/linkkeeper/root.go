package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sundayezeilo/linkkeeper/internal/app"
)

// newRootCmd builds the command tree. The root command runs the
// interactive console; sweep runs one eviction pass and exits.
func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "linkkeeper",
		Short: "Short links that expire by time or by click count",
		Long: `linkkeeper issues short codes for long URLs. Each link dies when its
time to live runs out or its click budget is spent, and its owner is
notified the next time they use the console.

Configuration comes from the environment (see .env.example).`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), app.Options{
				EnvFile: envFile,
				In:      cmd.InOrStdin(),
				Out:     cmd.OutOrStdout(),
				ErrOut:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			return a.Start(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load variables from this file before reading the environment")

	root.AddCommand(newSweepCmd(&envFile))
	return root
}

func newSweepCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and spent links, notifying their owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), app.Options{
				EnvFile: *envFile,
				In:      cmd.InOrStdin(),
				Out:     cmd.OutOrStdout(),
				ErrOut:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			report, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d links, evicted %d.\n", report.Scanned, len(report.Evicted))
			for _, e := range report.Evicted {
				fmt.Fprintf(out, "  %s  %s (%s)\n", e.Code, e.Reason, e.Reason.Description())
			}
			return nil
		},
	}
}
