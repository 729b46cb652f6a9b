package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"pharmacy/pkg/app"
)

// main serves the reference backend for process managers that start cmd/server.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	args := append([]string{"serve"}, os.Args[1:]...)
	if err := app.Run(ctx, args, logger); err != nil {
		logger.WithError(err).Fatal("pharmacy backend stopped with error")
	}
}
