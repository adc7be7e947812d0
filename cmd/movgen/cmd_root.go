package main

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

type rootConfig struct {
	Ctx context.Context

	LogLevel string
}

func newRootCommand() *cobra.Command {
	config := new(rootConfig)
	cmd := &cobra.Command{
		Use:           "movgen",
		Short:         "Build movement files from beneficiary spreadsheets",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			config.Ctx = cmdCtx()
			setupLogging(cmd.ErrOrStderr(), config.LogLevel)
			return nil
		},
		Version: getVersion(),
	}
	cmd.PersistentFlags().StringVarP(
		&config.LogLevel,
		"log-level", "",
		"warn",
		"Minimum log level: debug, info, warn or error")

	cmd.AddCommand(newGenerateCommand(config))
	cmd.AddCommand(newCPFCommand(config))
	cmd.AddCommand(newLayoutCommand(config))
	cmd.AddCommand(newFieldsCommand(config))
	return cmd
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s (built with %s)\n", buildInfo.Main.Version, runtime.Version())
}
