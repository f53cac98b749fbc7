package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/InfamousVague/Wraith-sub005/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Entry represents a logger with pre-bound fields
type Entry = *logrus.Entry

// NewLogger creates a new configured logger instance
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger with a service field
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger = logger.WithField("service", serviceName).Logger
	return logger
}

// WithComponent returns an entry bound to a component field so subsystems
// (discovery, prober, selector, ...) are distinguishable in aggregated logs.
func WithComponent(logger Logger, component string) Entry {
	return logger.WithField("component", component)
}
