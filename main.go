package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"archivist/cmd"
	"archivist/types"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewApp(version).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "archivist: %v\n", err)
		if errors.Is(err, types.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
