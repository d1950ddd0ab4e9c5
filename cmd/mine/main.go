package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/solvaholic/channelmine/cmd/mine/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.ExecuteContext(ctx)
	stop()

	if err != nil {
		commands.OutputError("%v", err)
		os.Exit(1)
	}
}
