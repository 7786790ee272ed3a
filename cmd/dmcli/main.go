package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"buildlink/cmd/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dmcli:", err)
		cancel()
		os.Exit(1)
	}
}
