// Package main runs the recording sync worker: tier scheduler, purge and the on-demand check queue.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Keeps local recording metadata in step with the conferencing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(logger),
		newJobCmd(logger),
		newJobsCmd(logger),
		newMigrateCmd(logger),
		newTokenCmd(logger),
	)
	if err := root.Execute(); err != nil {
		logger.Error("worker", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
