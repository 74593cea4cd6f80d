package util

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLogLevel sets the logging level
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetFormat selects the log formatter by name ("text" or "json").
func SetFormat(format string) error {
	switch format {
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		SetJSONFormat()
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetJSONFormat enables JSON log format
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithComponent returns a logger tagged with the emitting component
// (rtnl, eoiu, warmrestart, pipeline, health, syncd).
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithEntity returns a logger with entity key context
func WithEntity(component, key string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"component": component, "key": key})
}
