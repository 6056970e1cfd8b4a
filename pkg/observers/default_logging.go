package observers

import (
	"github.com/go-logr/logr"
)

// NewDefaultLoggingObserver creates a logging observer under the "greensplit" logger name
func NewDefaultLoggingObserver(logger logr.Logger) *LoggingObserver {
	return NewLoggingObserver(logger.WithName("greensplit"))
}
