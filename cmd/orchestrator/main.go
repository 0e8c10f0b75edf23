package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/threshold-orchestrator/internal/app"
	"github.com/yungbote/threshold-orchestrator/internal/platform/shutdown"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	if err := a.Start(); err != nil {
		a.Close()
		fmt.Printf("failed to start app: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	err = a.Run(ctx)
	a.Close()
	if err != nil {
		fmt.Printf("server exited: %v\n", err)
		os.Exit(1)
	}
}
