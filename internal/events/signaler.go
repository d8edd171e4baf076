package events

import (
	"golang.org/x/time/rate"

	"github.com/datallboy/dlqueue/internal/infra/logger"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Signaler publishes user-facing popups. A burst of failures is rate limited
// so the presentation layer isn't flooded; every signal still reaches the log.
type Signaler struct {
	sink    Sink
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewSignaler(sink Sink, perSec float64, burst int, log *logger.Logger) *Signaler {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Signaler{sink: sink, limiter: rate.NewLimiter(rate.Limit(perSec), burst), log: log}
}

// Signal reports whether the message was published.
func (s *Signaler) Signal(id, name string, level Level, msg string) bool {
	switch level {
	case LevelError:
		s.log.Error("%s: %s", name, msg)
	case LevelWarning:
		s.log.Warn("%s: %s", name, msg)
	default:
		s.log.Info("%s: %s", name, msg)
	}

	if !s.limiter.Allow() {
		s.log.Debug("signal for %s dropped by rate limit", name)
		return false
	}
	s.sink.Publish(New(CommandSignal, id, map[string]any{
		"name":    name,
		"level":   string(level),
		"message": msg,
	}))
	return true
}
