package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/movimentacao/internal/core"
)

func newCPFCommand(rootConfig *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cpf CPF...",
		Short: "Check CPF numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCmd(doCPF(args, cmd.OutOrStdout()))
		},
	}
}

// doCPF prints one line per value and fails if any is invalid.
func doCPF(values []string, out io.Writer) error {
	bad := 0
	for _, v := range values {
		digits, _ := core.NormalizeCPF(v)
		status := "valid"
		if !core.ValidateCPF(v) {
			status = "invalid"
			bad++
		}
		fmt.Fprintf(out, "%s\t%s\n", digits, status)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d CPF numbers are invalid", bad, len(values))
	}
	return nil
}
