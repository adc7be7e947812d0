package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/JonMunkholm/movimentacao/internal/core"
)

type generateConfig struct {
	rootConfig *rootConfig

	Account string
	Input   string
	Output  string
	Strict  bool
}

func newGenerateCommand(rootConfig *rootConfig) *cobra.Command {
	config := &generateConfig{
		rootConfig: rootConfig,
	}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Convert a spreadsheet into a movement file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Input == "" && len(args) > 0 {
				config.Input = args[0]
			}
			return checkCmd(doGenerate(config.rootConfig.Ctx, config, cmd.OutOrStdout(), cmd.ErrOrStderr(), time.Now()))
		},
	}
	cmd.Flags().StringVarP(
		&config.Account,
		"account", "a",
		"",
		"Account number written to the header")
	cmd.Flags().StringVarP(
		&config.Input,
		"input", "i",
		"",
		"Spreadsheet to convert (.xlsx, .xlsm or .csv)")
	cmd.Flags().StringVarP(
		&config.Output,
		"output", "o",
		"",
		"Output file, - for stdout (default: generated name in the current directory)")
	cmd.Flags().BoolVarP(
		&config.Strict,
		"strict", "",
		false,
		"Fail when a complete CPF has an invalid check digit")

	return cmd
}

func doGenerate(ctx context.Context, config *generateConfig, stdout, stderr io.Writer, now time.Time) error {
	if config.Account == "" {
		return usageErr.New("--account is required")
	}
	if config.Input == "" {
		return usageErr.New("--input is required")
	}

	f, err := os.Open(config.Input)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := core.ReadRows(filepath.Base(config.Input), f, core.DefaultMaxImportSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: %w", config.Input, core.ErrEmptyFile)
	}

	pipeline := core.NewPipeline(core.WithClock(func() time.Time { return now }))
	slog.Debug("converting", "file", config.Input, "rows", len(rows), "strategy", pipeline.StrategyFor(len(rows)))

	records, err := pipeline.Run(ctx, rows, nil)
	if err != nil {
		return err
	}

	store := core.NewRecordStore(core.WithMinRows(0), core.WithStoreClock(func() time.Time { return now }))
	for _, w := range store.Load(records) {
		fmt.Fprintf(stderr, "warning: row %d: %s\n", w.Row, w.Message)
	}
	if invalid := store.InvalidCPFRows(); len(invalid) > 0 {
		fmt.Fprintf(stderr, "warning: invalid CPF in rows %v\n", invalid)
		if config.Strict {
			return errs.New("%d rows have an invalid CPF", len(invalid))
		}
	}

	content, err := core.EncodeAt(config.Account, store.Records(), now)
	if err != nil {
		return err
	}

	path := config.Output
	if path == "" {
		path = core.FileName(now)
	}
	out, closeOut, err := openOutput(path, stdout)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, content); err != nil {
		_ = closeOut()
		return errs.Wrap(err)
	}
	if err := closeOut(); err != nil {
		return errs.Wrap(err)
	}

	if path != "-" {
		fmt.Fprintf(stderr, "wrote %d records to %s\n", store.Len(), path)
	}
	return nil
}
