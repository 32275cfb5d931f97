package main

import (
	"context"
	"log/slog"
	"os"

	"featureworker/internal/cli"
	"featureworker/internal/logger"
)

func main() {
	// Initialize structured logger
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	os.Exit(cli.Execute(context.Background()))
}
