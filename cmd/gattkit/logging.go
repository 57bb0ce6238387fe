package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/config"
)

// configureLogger creates a logger for the command. --log-level takes precedence
// over --verbose, which takes precedence over the log_level of an explicitly
// loaded config file. Without any of them the CLI stays silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config, fromFile bool) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	if logLevelStr, _ := cmd.Flags().GetString("log-level"); logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = logrus.DebugLevel
	} else if fromFile {
		logLevel = cfg.Level()
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
