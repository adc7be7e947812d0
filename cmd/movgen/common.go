package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/zeebo/errs"

	"github.com/JonMunkholm/movimentacao/internal/logging"
)

var (
	usageErr = errs.Class("usage")
)

func cmdCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		sig := <-ch
		fmt.Fprintf(os.Stderr, "Signal %q received\n", sig)
		cancel()
	}()
	return ctx
}

func setupLogging(w io.Writer, level string) {
	slog.SetDefault(logging.New(w, level, "text"))
}

func checkCmd(err error) error {
	switch {
	case err == nil:
		return nil
	case usageErr.Has(err):
		// If it is a usage error, return it directly so cobra command will
		// show usage. Otherwise, print and exit with non-zero exit status.
		return err
	}
	// other errors exit with 2
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(2)
	return err
}

// openOutput returns the writer for path; "-" is stdout.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errs.Wrap(err)
	}
	return f, f.Close, nil
}
