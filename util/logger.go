package util

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger.
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}
