package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/JonMunkholm/movimentacao/internal/core"
)

type layoutConfig struct {
	rootConfig *rootConfig
	Output     string
}

func newLayoutCommand(rootConfig *rootConfig) *cobra.Command {
	config := &layoutConfig{
		rootConfig: rootConfig,
	}
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Write the empty spreadsheet layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCmd(doLayout(config, cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVarP(
		&config.Output,
		"output", "o",
		core.LayoutFileName,
		"Output file, - for stdout")

	return cmd
}

func doLayout(config *layoutConfig, stdout io.Writer) error {
	out, closeOut, err := openOutput(config.Output, stdout)
	if err != nil {
		return err
	}
	if err := core.WriteLayout(out); err != nil {
		_ = closeOut()
		return err
	}
	return errs.Wrap(closeOut())
}

func newFieldsCommand(rootConfig *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the fields of the movement file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCmd(doFields(cmd.OutOrStdout()))
		},
	}
}

func doFields(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tID\tNAME")
	for _, f := range core.Fields() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.Position, f.ID, f.DisplayName)
	}
	return tw.Flush()
}
