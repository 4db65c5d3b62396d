package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"paytrack/internal/cli"
)

func main() {
	cli.LoadEnvFile()
	cli.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
