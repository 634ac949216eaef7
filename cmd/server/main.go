package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"github.com/WillIsback/clea-api/internal/server"
	"github.com/WillIsback/clea-api/pkg/logger"
)

func main() {
	app := fx.New(
		server.Module,
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		logger.Get().Error("application startup failed", "error", err)
		os.Exit(1)
	}

	<-app.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logger.Get().Error("application shutdown failed", "error", err)
	}
	_ = logger.Sync()
}
