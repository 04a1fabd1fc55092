// Command scorectl signs score updates and relays them to a credo node.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikhlu07/Credo/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Get().Error(ctx, "scorectl failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}
