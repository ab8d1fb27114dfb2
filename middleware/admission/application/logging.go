package application

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const failOpenLogInterval = 10 * time.Second

// throttledLog evita inundar o log durante uma queda do store: um warn por intervalo.
type throttledLog struct {
	logger *slog.Logger
	every  *rate.Sometimes
}

func newThrottledLog(logger *slog.Logger, interval time.Duration) *throttledLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &throttledLog{
		logger: logger,
		every:  &rate.Sometimes{Interval: interval},
	}
}

func (t *throttledLog) Warn(msg string, args ...any) {
	t.every.Do(func() {
		t.logger.Warn(msg, args...)
	})
}
