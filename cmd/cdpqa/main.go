package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cdpqa/pkg/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(api.NewService).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cdpqa:", err)
		stop()
		os.Exit(1)
	}
}
