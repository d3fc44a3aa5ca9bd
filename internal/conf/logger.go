// Package conf loads FaunaVision-Go settings from defaults, an optional
// config.yaml and FAUNAVISION_* environment variables.
package conf

import "github.com/faunavision/faunavision-go/internal/logger"

// GetLogger returns the config package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
