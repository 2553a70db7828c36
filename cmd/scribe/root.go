package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		configFile string
		a          *app
	)

	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Adaptive agent supervision for a creative-writing assistant",
		Long:          "scribe runs legacy and enhanced creative-writing agents side by side, routes requests between them, remembers what worked and keeps the agent fleet healthy.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./scribe.{yaml,toml} or ~/.scribe/scribe.{yaml,toml})")

	// services are wired on first use so that version and help work without a provider
	appFn := func(cmd *cobra.Command) (*app, error) {
		if a != nil {
			return a, nil
		}
		wired, err := wireApp(cmd.Context(), configFile, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		a = wired
		return a, nil
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		if a == nil {
			return nil
		}
		err := a.Close()
		a = nil
		return err
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newExecCmd(appFn),
		newReplCmd(appFn),
		newHealthCmd(appFn),
		newDoctorCmd(appFn),
		newCompactCmd(appFn),
		newStrategyCmd(appFn),
		newServeCmd(appFn),
	)
	return rootCmd
}

type appProvider func(cmd *cobra.Command) (*app, error)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
