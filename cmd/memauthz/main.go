package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/memauthz/pkg/cli"
	"github.com/platinummonkey/memauthz/pkg/service"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func main() {
	logger := setupLogger(os.Getenv("MEMAUTHZ_LOG_LEVEL"))
	service.Version = version

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		entry := logger.WithError(err)
		if errors.Is(err, cli.ErrDenied) {
			entry.Debug("access denied")
			os.Exit(2)
		}
		entry.Error("memauthz failed")
		os.Exit(1)
	}
}
