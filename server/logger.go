package server

import (
	"os"

	"llmlatencybench/internal/logger"
)

// AppLogger is the server's process-wide logger
var AppLogger = logger.New(os.Getenv("LOG_MODE"))

// SetLogger replaces AppLogger, nil is ignored
func SetLogger(l *logger.Logger) {
	if l != nil {
		AppLogger = l
	}
}
