package main

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	schemapipeline "github.com/apify-store/dataset-schema-super-actor/cmd/schema-pipeline"
)

func main() {
	// A missing .env is fine; explicit environment variables always win.
	_ = godotenv.Load()

	logger := zap.Must(zap.NewProduction())

	executionErr := schemapipeline.Execute(logger.Sugar())
	if executionErr != nil {
		logger.Error("command execution failed", zap.Error(executionErr))
		_ = logger.Sync()
		os.Exit(1)
	}

	syncErr := logger.Sync()
	if syncErr != nil {
		os.Exit(1)
	}
}
