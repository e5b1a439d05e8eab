// Package logging configures the process-wide logrus logger.
// Packages take component loggers via
// logrus.StandardLogger().WithField("component", ...), so Setup
// only has to configure the standard logger once at startup.
package logging

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Setup configures the standard logger. Local environments get a
// readable console format; everything else logs JSON.
func Setup(environment, level string) {
	base := logrus.StandardLogger()

	if environment == "" || environment == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	base.SetOutput(os.Stdout)

	switch level {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// Component returns a logger tagged with a component name.
func Component(name string) logrus.FieldLogger {
	return logrus.StandardLogger().WithField("component", name)
}

// WithRequest attaches request metadata to a log entry. A request
// ID is taken from the X-Request-ID header, or minted when absent.
func WithRequest(
	log logrus.FieldLogger, r *http.Request,
) *logrus.Entry {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return log.WithFields(logrus.Fields{
		"req_id": reqID,
		"method": r.Method,
		"path":   r.URL.Path,
	})
}
