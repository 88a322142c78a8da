// Command chan runs the Chan pattern engine over daily bar series.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chanlun-engine/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
